package api

import (
	"net/http"

	"github.com/absmach/fedlet/agent"
	"github.com/absmach/fedlet/pkg/federated"
)

type response interface {
	Code() int
	Empty() bool
}

var (
	_ response = (*healthRes)(nil)
	_ response = (*modelsRes)(nil)
	_ response = (*modelRes)(nil)
	_ response = (*removeModelRes)(nil)
	_ response = (*checkRes)(nil)
	_ response = (*availableRes)(nil)
	_ response = (*inFlightRes)(nil)
	_ response = (*runsRes)(nil)
)

type healthRes struct {
	agent.Health
}

func (res healthRes) Code() int {
	return http.StatusOK
}

func (res healthRes) Empty() bool {
	return false
}

type modelsRes struct {
	Models []agent.ModelInfo `json:"models"`
}

func (res modelsRes) Code() int {
	return http.StatusOK
}

func (res modelsRes) Empty() bool {
	return false
}

type modelRes struct {
	agent.ModelInfo
}

func (res modelRes) Code() int {
	return http.StatusOK
}

func (res modelRes) Empty() bool {
	return false
}

type removeModelRes struct{}

func (res removeModelRes) Code() int {
	return http.StatusNoContent
}

func (res removeModelRes) Empty() bool {
	return true
}

type checkRes struct {
	Queued bool `json:"queued"`
}

func (res checkRes) Code() int {
	return http.StatusAccepted
}

func (res checkRes) Empty() bool {
	return false
}

type availableRes struct {
	Available bool `json:"available"`
}

func (res availableRes) Code() int {
	return http.StatusOK
}

func (res availableRes) Empty() bool {
	return false
}

type inFlightRes struct {
	Tasks []federated.PipelineState `json:"tasks"`
}

func (res inFlightRes) Code() int {
	return http.StatusOK
}

func (res inFlightRes) Empty() bool {
	return false
}

type runsRes struct {
	agent.RunsPage
}

func (res runsRes) Code() int {
	return http.StatusOK
}

func (res runsRes) Empty() bool {
	return false
}
