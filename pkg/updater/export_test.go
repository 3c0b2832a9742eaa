package updater

// SetRemoveAll replaces the function removing replaced bundles and returns
// a func restoring the original.
func SetRemoveAll(fn func(string) error) func() {
	prev := removeAll
	removeAll = fn

	return func() { removeAll = prev }
}
