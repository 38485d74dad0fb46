package share

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// WhatsAppPackage is the Android package the intent URL targets.
const WhatsAppPackage = "com.whatsapp"

func escape(text string) string {
	return strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

// IntentURL builds the Android intent link for a message.
func IntentURL(text string) string {
	return fmt.Sprintf("intent://send?text=%s#Intent;scheme=whatsapp;package=%s;end", escape(text), WhatsAppPackage)
}

// SchemeURL builds the app scheme link used on iOS.
func SchemeURL(text string) string {
	return "whatsapp://send?text=" + escape(text)
}

// WebURL builds the browser fallback link.
func WebURL(text string) string {
	return "https://api.whatsapp.com/send?text=" + escape(text)
}

// NativeFile shares the PNG itself through the share sheet.
type NativeFile struct{}

func (NativeFile) Name() string { return "native-file" }

func (NativeFile) Supports(env Env) bool { return env.NativeShare && env.NativeFiles }

func (NativeFile) Share(ctx context.Context, p Platform, payload Payload) (Result, error) {
	n := p.Native()
	if n == nil || !n.CanShareFiles() || payload.Artifact == nil || len(payload.Artifact.Data) == 0 {
		return Result{}, ErrUnsupported
	}
	name := payload.FileName
	if name == "" {
		name = "membership-card.png"
	}
	caption := payload.Caption
	if caption == "" {
		caption = DefaultCaption
	}
	if err := n.ShareFile(ctx, name, payload.Artifact.MIME, payload.Artifact.Data, caption); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

// NativeLink shares the caption and link through the share sheet.
type NativeLink struct{}

func (NativeLink) Name() string { return "native-link" }

func (NativeLink) Supports(env Env) bool { return env.NativeShare }

func (NativeLink) Share(ctx context.Context, p Platform, payload Payload) (Result, error) {
	n := p.Native()
	if n == nil {
		return Result{}, ErrUnsupported
	}
	caption := payload.Caption
	if caption == "" {
		caption = DefaultCaption
	}
	if err := n.ShareLink(ctx, caption, payload.URL); err != nil {
		return Result{}, err
	}
	return Result{URL: payload.URL}, nil
}

// AndroidIntent opens the messaging app through an intent URL.
type AndroidIntent struct{}

func (AndroidIntent) Name() string { return "android-intent" }

func (AndroidIntent) Supports(env Env) bool { return env.OS == OSAndroid }

func (AndroidIntent) Link(payload Payload) string { return IntentURL(payload.Message()) }

func (t AndroidIntent) Share(_ context.Context, p Platform, payload Payload) (Result, error) {
	return openURL(p, t.Link(payload))
}

// IOSScheme opens the app scheme on the next tap, since programmatic
// navigation outside a gesture is blocked. Failures after the tap are
// logged since no caller is left to receive them.
type IOSScheme struct {
	Logger *slog.Logger
}

func (IOSScheme) Name() string { return "ios-scheme" }

func (IOSScheme) Supports(env Env) bool { return env.OS == OSIOS }

func (IOSScheme) Link(payload Payload) string { return SchemeURL(payload.Message()) }

func (t IOSScheme) Share(_ context.Context, p Platform, payload Payload) (Result, error) {
	target := t.Link(payload)
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p.OnNextTap(func() {
		if _, err := openURL(p, target); err != nil {
			logger.Error("deferred share failed", "transport", t.Name(), "url", target, "error", err)
		}
	})
	return Result{URL: target, Deferred: true}, nil
}

// Web opens the browser link. It applies everywhere.
type Web struct{}

func (Web) Name() string { return "web" }

func (Web) Supports(Env) bool { return true }

func (Web) Link(payload Payload) string { return WebURL(payload.Message()) }

func (t Web) Share(_ context.Context, p Platform, payload Payload) (Result, error) {
	return openURL(p, t.Link(payload))
}
