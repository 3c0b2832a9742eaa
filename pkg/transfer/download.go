package transfer

import (
	"context"
	"io"
	"os"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/go-resty/resty/v2"
)

// Download streams link into dst through client, reporting progress as a
// fraction of Content-Length. A partial file is removed on failure.
func Download(ctx context.Context, client *resty.Client, op, link, dst string, progress ProgressFunc) error {
	res, err := client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(link)
	if err != nil {
		return pkgerrors.TransportError(op, 0, err)
	}
	body := res.RawBody()
	defer body.Close()

	if !res.IsSuccess() {
		excerpt, _ := io.ReadAll(io.LimitReader(body, 512))

		return pkgerrors.StatusError(op, res.StatusCode(), excerpt)
	}

	f, err := os.Create(dst)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.KindInternal, op, err)
	}

	r := NewReader(body, res.RawResponse.ContentLength, progress)
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)

		return pkgerrors.TransportError(op, 0, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)

		return pkgerrors.Wrap(pkgerrors.KindInternal, op, err)
	}
	r.Done()

	return nil
}
