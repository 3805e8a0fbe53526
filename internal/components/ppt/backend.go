package ppt

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/kiranshivaraju/appbuilder/internal/appbuilder"
	"github.com/kiranshivaraju/appbuilder/internal/job"
)

// Backend implements job.Backend for PPT generation.
type Backend struct {
	transport appbuilder.Transport
}

// NewBackend creates a PPT backend over transport.
func NewBackend(transport appbuilder.Transport) *Backend {
	return &Backend{transport: transport}
}

func (b *Backend) Validate(in Input) (Input, error) {
	return in.Validate()
}

func (b *Backend) Create(ctx context.Context, in Input) (string, error) {
	resp, err := b.transport.PostJSON(ctx, appbuilder.ComponentPrefix, CreatePath, in)
	if err != nil {
		return "", mark(err)
	}
	var data struct {
		ID remoteID `json:"id"`
	}
	if err := appbuilder.DecodeEnvelope(resp, &data); err != nil {
		return "", mark(err)
	}
	return string(data.ID), nil
}

func (b *Backend) Status(ctx context.Context, id string) (job.StatusReport, error) {
	resp, err := b.transport.Get(ctx, appbuilder.ComponentPrefix, StatusPath, url.Values{"id": {id}})
	if err != nil {
		return job.StatusReport{}, mark(err)
	}
	var data struct {
		Status *int `json:"status"`
	}
	if err := appbuilder.DecodeEnvelope(resp, &data); err != nil {
		return job.StatusReport{}, mark(err)
	}
	if data.Status == nil {
		return job.StatusReport{}, job.Protocol(fmt.Errorf("requestID=%s: status response carried no status", resp.RequestID))
	}

	report := job.StatusReport{Code: *data.Status}
	if report.Code == job.CodeFailed {
		report.Message = fmt.Sprintf("ppt generation failed (requestID=%s)", resp.RequestID)
	}
	return report, nil
}

func (b *Backend) Result(ctx context.Context, id string) (Result, error) {
	resp, err := b.transport.Get(ctx, appbuilder.ComponentPrefix, DownloadPath, url.Values{"id": {id}})
	if err != nil {
		return Result{}, mark(err)
	}
	var data struct {
		DownloadURL string `json:"download_url"`
	}
	if err := appbuilder.DecodeEnvelope(resp, &data); err != nil {
		return Result{}, mark(err)
	}
	if data.DownloadURL == "" {
		return Result{}, job.Protocol(fmt.Errorf("requestID=%s: download response carried no download_url", resp.RequestID))
	}
	return Result{JobID: id, DownloadURL: data.DownloadURL}, nil
}

// mark tags an appbuilder error with the job failure category.
func mark(err error) error {
	if errors.Is(err, appbuilder.ErrEnvelope) {
		return job.Protocol(err)
	}
	return job.Transport(err)
}

// NewGenerator returns a poller running the PPT workflow over transport.
func NewGenerator(transport appbuilder.Transport, opts ...job.Option) *job.Poller[Input, Result] {
	return job.New[Input, Result](Name, NewBackend(transport), opts...)
}

// Compile-time checks.
var (
	_ job.Backend[Input, Result] = (*Backend)(nil)
	_ job.Validator[Input]       = (*Backend)(nil)
)
