// Package deviceapi talks to the HTTPS control API of paging endpoints.
//
// Every call is signed (see package signing). Devices bind signatures to
// their own clock, so a device whose clock has drifted rejects a correct
// request with 403. When that happens and the response carries a Date
// header, Call measures the drift and retries exactly once with the
// timestamp shifted by it. Any other failure is returned as is.
package deviceapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-provisioner/internal/constants"
	"github.com/benmeehan/iot-provisioner/internal/models"
	"github.com/benmeehan/iot-provisioner/pkg/audit"
	"github.com/benmeehan/iot-provisioner/pkg/clock"
	"github.com/benmeehan/iot-provisioner/pkg/signing"
)

// maxResponseSize bounds how much of a device response is read.
const maxResponseSize int64 = 1 << 20

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DeviceAPI is the set of device operations the provisioning pipeline
// needs.
type DeviceAPI interface {
	GetInfo(ctx context.Context, address string) (models.DeviceInfo, error)
	ApplySettings(ctx context.Context, address string, settings map[string]string) error
	PushConfig(ctx context.Context, address string, blob string) error
	Reboot(ctx context.Context, address string) error
	UploadFirmware(ctx context.Context, address string, image []byte) error
}

// Options configures a Client.
type Options struct {
	Scheme          string // https unless overridden
	Principal       string
	Secret          []byte
	ClockOffset     time.Duration // applied to the first attempt of every call
	ControlTimeout  time.Duration
	FirmwareTimeout time.Duration
	Clock           clock.Clock
	Recorder        audit.RejectionRecorder
}

// Response is a successful device response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is the signed request client.
type Client struct {
	http            Doer
	scheme          string
	principal       string
	secret          []byte
	clockOffset     time.Duration
	controlTimeout  time.Duration
	firmwareTimeout time.Duration
	clock           clock.Clock
	recorder        audit.RejectionRecorder
	logger          zerolog.Logger
}

// NewHTTPClient returns an HTTP client for device traffic. Devices ship
// self-signed certificates, so verification is usually disabled.
func NewHTTPClient(insecureSkipVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecureSkipVerify} //nolint:gosec
	return &http.Client{Transport: transport}
}

// NewClient creates a Client sending requests through httpClient.
func NewClient(httpClient Doer, opts Options, logger zerolog.Logger) *Client {
	if opts.Scheme == "" {
		opts.Scheme = constants.DefaultScheme
	}
	if opts.Principal == "" {
		opts.Principal = constants.DefaultPrincipal
	}
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = constants.DefaultControlTimeout
	}
	if opts.FirmwareTimeout <= 0 {
		opts.FirmwareTimeout = constants.DefaultFirmwareTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Recorder == nil {
		opts.Recorder = audit.NopRecorder{}
	}
	return &Client{
		http:            httpClient,
		scheme:          opts.Scheme,
		principal:       opts.Principal,
		secret:          opts.Secret,
		clockOffset:     opts.ClockOffset,
		controlTimeout:  opts.ControlTimeout,
		firmwareTimeout: opts.FirmwareTimeout,
		clock:           opts.Clock,
		recorder:        opts.Recorder,
		logger:          logger,
	}
}

// request describes one logical call; it may be sent twice.
type request struct {
	address string
	method  string
	path    string
	payload Payload
	timeout time.Duration
}

// Call sends one signed request to address using the control timeout.
// payload may be nil.
func (c *Client) Call(ctx context.Context, address, method, path string, payload Payload) (*Response, error) {
	return c.call(ctx, request{
		address: address,
		method:  method,
		path:    path,
		payload: payload,
		timeout: c.controlTimeout,
	})
}

// call applies the clock-skew retry policy around send.
func (c *Client) call(ctx context.Context, req request) (*Response, error) {
	resp, err := c.send(ctx, req, c.clockOffset, 1)
	if err == nil {
		return resp, nil
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden || !statusErr.HasServerDate() {
		return nil, err
	}

	offset := statusErr.ServerDate.Sub(c.clock.Now()).Round(time.Second)
	c.logger.Warn().
		Str("address", req.address).
		Str("path", req.path).
		Dur("offset", offset).
		Msg("Device rejected signature, retrying with device clock")

	resp, err = c.send(ctx, req, offset, 2)
	if err != nil {
		if IsAuthRejected(err) {
			return nil, fmt.Errorf("%w (offset %s): %w", ErrClockSkew, offset, err)
		}
		return nil, err
	}
	return resp, nil
}

// send performs a single signed attempt. Nonce and timestamp are fresh on
// every attempt.
func (c *Client) send(ctx context.Context, req request, offset time.Duration, attempt int) (*Response, error) {
	now := c.clock.Now().Add(offset)
	signReq := signing.Request{
		Method:    req.method,
		Path:      req.path,
		Timestamp: now,
		Nonce:     signing.NewNonce(),
	}

	var body []byte
	if req.payload != nil {
		var err error
		body, err = req.payload.Bytes()
		if err != nil {
			return nil, err
		}
		signReq.ContentMD5 = signing.ContentMD5(body)
		signReq.ContentType = req.payload.ContentType()
	}
	sig := signing.Sign(c.secret, signReq)

	attemptCtx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	target := url.URL{Scheme: c.scheme, Host: req.address, Path: req.path}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", signing.AuthorizationHeader(c.principal, sig))
	httpReq.Header.Set("Date", signing.DateHeader(now))
	if req.payload != nil {
		httpReq.Header.Set("Content-Type", signReq.ContentType)
		httpReq.Header.Set("Content-Md5", signReq.ContentMD5)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.reject(req, constants.RejectionStatusNetwork, err.Error(), attempt)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetworkUnreachable, req.method, target.String(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.reject(req, constants.RejectionStatusNetwork, err.Error(), attempt)
		return nil, fmt.Errorf("%w: reading response from %s: %w", ErrNetworkUnreachable, target.String(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{
			Address:    req.address,
			Method:     req.method,
			Path:       req.path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
		if date := resp.Header.Get("Date"); date != "" {
			if t, perr := http.ParseTime(date); perr == nil {
				statusErr.ServerDate = t
			}
		}
		c.reject(req, strconv.Itoa(resp.StatusCode), statusErr.Error(), attempt)
		return nil, statusErr
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) reject(req request, status, message string, attempt int) {
	c.recorder.Record(models.RejectionEntry{
		Timestamp: c.clock.Now().UTC(),
		Address:   req.address,
		Method:    req.method,
		Path:      req.path,
		Status:    status,
		Message:   message,
		Attempt:   attempt,
	})
}

// GetInfo fetches the device identity from /api/info/about.
func (c *Client) GetInfo(ctx context.Context, address string) (models.DeviceInfo, error) {
	resp, err := c.Call(ctx, address, http.MethodGet, constants.PathInfoAbout, nil)
	if err != nil {
		return models.DeviceInfo{}, err
	}
	var info models.DeviceInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return models.DeviceInfo{}, fmt.Errorf("failed to decode device info from %s: %w", address, err)
	}
	return info, nil
}

// ApplySettings pushes flat dotted settings keys.
func (c *Client) ApplySettings(ctx context.Context, address string, settings map[string]string) error {
	_, err := c.Call(ctx, address, http.MethodPut, constants.PathSettings, JSONPayload(settings))
	return err
}

// PushConfig uploads a complete configuration blob.
func (c *Client) PushConfig(ctx context.Context, address string, blob string) error {
	_, err := c.Call(ctx, address, http.MethodPut, constants.PathSettings,
		JSONPayload(map[string]string{constants.KeyConfigBlob: blob}))
	return err
}

// Reboot asks the device to restart. The device answers before it drops
// off the network.
func (c *Client) Reboot(ctx context.Context, address string) error {
	_, err := c.Call(ctx, address, http.MethodPost, constants.PathReboot, nil)
	return err
}

// UploadFirmware sends a firmware image using the firmware timeout.
func (c *Client) UploadFirmware(ctx context.Context, address string, image []byte) error {
	_, err := c.call(ctx, request{
		address: address,
		method:  http.MethodPost,
		path:    constants.PathFirmware,
		payload: BinaryPayload(image),
		timeout: c.firmwareTimeout,
	})
	return err
}
