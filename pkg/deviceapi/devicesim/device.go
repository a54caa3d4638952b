// Package devicesim is an in-process paging endpoint used by tests. It
// verifies request signatures against its own (optionally skewed) clock
// the way real devices do and records everything it receives.
package devicesim

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/iot-provisioner/internal/constants"
	"github.com/benmeehan/iot-provisioner/pkg/signing"
)

// DefaultTolerance is how far a request timestamp may drift from the
// device clock before the device rejects it.
const DefaultTolerance = 30 * time.Second

// Request is a request as seen by the device.
type Request struct {
	Method        string
	Path          string
	Date          string
	Authorization string
	ContentType   string
	ContentMD5    string
	Body          []byte
	Timestamp     time.Time
}

// Device simulates one endpoint. Configure the exported fields before
// serving; read the recorded state through the accessor methods.
type Device struct {
	Secret    []byte
	Principal string
	Model     string
	Firmware  string

	// Now is the reference clock; the device clock is Now()+Skew.
	Now       func() time.Time
	Skew      time.Duration
	Tolerance time.Duration

	// FlashedVersion, when set, becomes the reported firmware version
	// once an image has been uploaded.
	FlashedVersion string

	// ForceStatus makes the device answer the given path with a fixed
	// status code after authentication succeeds.
	ForceStatus map[string]int

	// BootDuration is how long the device stays unreachable after a
	// reboot or firmware upload. Connections arriving in that window are
	// dropped without a response.
	BootDuration time.Duration

	mu        sync.Mutex
	downUntil time.Time
	requests  []Request
	settings  map[string]string
	config    string
	reboots   int
	firmwares [][]byte
}

// New returns a device with the given credentials and identity.
func New(secret, model, firmware string) *Device {
	return &Device{
		Secret:    []byte(secret),
		Principal: constants.DefaultPrincipal,
		Model:     model,
		Firmware:  firmware,
		Now:       time.Now,
		Tolerance: DefaultTolerance,
		settings:  make(map[string]string),
	}
}

func (d *Device) deviceNow() time.Time {
	return d.Now().Add(d.Skew)
}

// ServeHTTP implements http.Handler.
func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if d.booting() {
		drop(w)
		return
	}

	body, _ := io.ReadAll(r.Body)
	seen := Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Date:          r.Header.Get("Date"),
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		ContentMD5:    r.Header.Get("Content-Md5"),
		Body:          body,
	}
	if t, err := http.ParseTime(seen.Date); err == nil {
		seen.Timestamp = t
	}

	d.mu.Lock()
	d.requests = append(d.requests, seen)
	d.mu.Unlock()

	w.Header().Set("Date", d.deviceNow().UTC().Format(http.TimeFormat))

	if !d.authenticate(seen) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if status, ok := d.ForceStatus[seen.Path]; ok {
		http.Error(w, http.StatusText(status), status)
		return
	}

	d.handle(w, seen)
}

func (d *Device) booting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceNow().Before(d.downUntil)
}

// drop closes the connection the way a rebooting device does.
func drop(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			conn.Close()
			return
		}
	}
	http.Error(w, "booting", http.StatusServiceUnavailable)
}

func (d *Device) authenticate(req Request) bool {
	if req.Timestamp.IsZero() {
		return false
	}
	principal, nonce, digest, err := signing.ParseAuthorizationHeader(req.Authorization)
	if err != nil || principal != d.Principal {
		return false
	}
	if len(req.Body) > 0 && signing.ContentMD5(req.Body) != req.ContentMD5 {
		return false
	}
	signReq := signing.Request{
		Method:      req.Method,
		Path:        req.Path,
		ContentMD5:  req.ContentMD5,
		ContentType: req.ContentType,
		Timestamp:   req.Timestamp,
		Nonce:       nonce,
	}
	if !signing.Verify(d.Secret, signReq, digest) {
		return false
	}
	drift := d.deviceNow().Sub(req.Timestamp)
	if drift < 0 {
		drift = -drift
	}
	return drift <= d.Tolerance
}

func (d *Device) handle(w http.ResponseWriter, req Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case req.Method == http.MethodGet && req.Path == constants.PathInfoAbout:
		w.Header().Set("Content-Type", signing.ContentTypeJSON)
		_ = json.NewEncoder(w).Encode(map[string]string{
			constants.InfoKeyProductName: d.Model,
			constants.InfoKeyFirmware:    d.Firmware,
		})
	case req.Method == http.MethodPut && req.Path == constants.PathSettings:
		var settings map[string]string
		if err := json.Unmarshal(req.Body, &settings); err != nil {
			http.Error(w, "bad settings", http.StatusBadRequest)
			return
		}
		if blob, ok := settings[constants.KeyConfigBlob]; ok {
			d.config = blob
		} else {
			for k, v := range settings {
				d.settings[k] = v
			}
		}
		w.WriteHeader(http.StatusOK)
	case req.Method == http.MethodPost && req.Path == constants.PathReboot:
		d.reboots++
		d.downUntil = d.deviceNow().Add(d.BootDuration)
		w.WriteHeader(http.StatusOK)
	case req.Method == http.MethodPost && req.Path == constants.PathFirmware:
		if !strings.HasPrefix(req.ContentType, signing.ContentTypeBinary) {
			http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
			return
		}
		d.firmwares = append(d.firmwares, req.Body)
		if d.FlashedVersion != "" {
			d.Firmware = d.FlashedVersion
		}
		d.downUntil = d.deviceNow().Add(d.BootDuration)
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// Requests returns every request received so far.
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Request, len(d.requests))
	copy(out, d.requests)
	return out
}

// Settings returns the flat settings applied so far.
func (d *Device) Settings() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.settings))
	for k, v := range d.settings {
		out[k] = v
	}
	return out
}

// Config returns the last configuration blob pushed.
func (d *Device) Config() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// Reboots returns how many reboot commands were accepted.
func (d *Device) Reboots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reboots
}

// Firmwares returns every uploaded firmware image.
func (d *Device) Firmwares() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.firmwares))
	copy(out, d.firmwares)
	return out
}
