// Package share hands an exported card to a messaging app using the best
// transport the client supports. Transports are tried in rank order; a
// transport that does not apply is skipped and a failing one falls through
// to the next, ending with a web link that always works.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/menta2k/membercard/pkg/types"
)

var (
	// ErrUnsupported means the transport does not apply to this client.
	ErrUnsupported = errors.New("share: transport unsupported")
	// ErrNoTransport is returned when every transport was skipped or failed.
	ErrNoTransport = errors.New("share: no transport succeeded")
)

// DefaultCaption accompanies every share.
const DefaultCaption = "Here is my membership card!"

// Payload is what gets shared.
type Payload struct {
	Artifact *types.Artifact
	FileName string
	Caption  string
	// URL is a link to the artifact, used by link based transports.
	URL string
}

// Message is the text sent by link based transports.
func (p Payload) Message() string {
	caption := p.Caption
	if caption == "" {
		caption = DefaultCaption
	}
	if p.URL == "" {
		return caption
	}
	return caption + "\n" + p.URL
}

// NativeSharer is a platform share sheet.
type NativeSharer interface {
	CanShareFiles() bool
	ShareFile(ctx context.Context, name, mime string, data []byte, caption string) error
	ShareLink(ctx context.Context, caption, url string) error
}

// Window is a handle to an opened target.
type Window interface {
	Closed() bool
}

// Platform is the client the card is shared from.
type Platform interface {
	UserAgent() string
	// Native returns nil when no share sheet is available.
	Native() NativeSharer
	Open(url string) (Window, error)
	Navigate(url string) error
	// OnNextTap runs fn inside the next user gesture.
	OnNextTap(fn func())
}

// Result describes the transport that handled the share.
type Result struct {
	Transport string `json:"transport"`
	URL       string `json:"url,omitempty"`
	// Deferred is set when the share runs on the next user tap.
	Deferred bool `json:"deferred,omitempty"`
	// Navigated is set when opening failed and the page navigated instead.
	Navigated bool `json:"navigated,omitempty"`
}

// Transport is one way of sharing.
type Transport interface {
	Name() string
	Supports(env Env) bool
	Share(ctx context.Context, p Platform, payload Payload) (Result, error)
}

// Dispatcher walks a ranked transport list.
type Dispatcher struct {
	transports []Transport
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher. With no transports the default
// ranking is used.
func NewDispatcher(logger *slog.Logger, transports ...Transport) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if len(transports) == 0 {
		transports = DefaultTransports()
	} else {
		transports = append([]Transport(nil), transports...)
	}
	for i, t := range transports {
		if ios, ok := t.(IOSScheme); ok && ios.Logger == nil {
			ios.Logger = logger
			transports[i] = ios
		}
	}
	return &Dispatcher{transports: transports, logger: logger}
}

// DefaultTransports returns native file, native link, Android intent, iOS
// scheme and web, in that order.
func DefaultTransports() []Transport {
	return []Transport{NativeFile{}, NativeLink{}, AndroidIntent{}, IOSScheme{}, Web{}}
}

// Share tries each supported transport until one succeeds.
func (d *Dispatcher) Share(ctx context.Context, p Platform, payload Payload) (Result, error) {
	env := EnvOf(p)
	var errs []error
	for _, t := range d.transports {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if !t.Supports(env) {
			continue
		}
		res, err := t.Share(ctx, p, payload)
		if err == nil {
			res.Transport = t.Name()
			d.logger.Info("card shared", "transport", res.Transport, "deferred", res.Deferred, "navigated", res.Navigated)
			return res, nil
		}
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		d.logger.Warn("share transport failed", "transport", t.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
	}
	if len(errs) == 0 {
		return Result{}, ErrNoTransport
	}
	return Result{}, fmt.Errorf("%w: %w", ErrNoTransport, errors.Join(errs...))
}

// openURL opens a target and navigates the page when no usable window came
// back.
func openURL(p Platform, target string) (Result, error) {
	res := Result{URL: target}
	w, err := p.Open(target)
	if err == nil && w != nil && !w.Closed() {
		return res, nil
	}
	if err := p.Navigate(target); err != nil {
		return Result{}, fmt.Errorf("navigate: %w", err)
	}
	res.Navigated = true
	return res, nil
}
