package share

import (
	"strings"

	"github.com/mssola/useragent"
)

// OS is the client family used to pick a transport.
type OS string

const (
	OSAndroid OS = "android"
	OSIOS     OS = "ios"
	OSDesktop OS = "desktop"
)

// DetectOS classifies a user agent string.
func DetectOS(userAgent string) OS {
	ua := useragent.New(userAgent)
	platform := ua.Platform()
	os := ua.OS()
	raw := strings.ToLower(userAgent)

	switch {
	case strings.Contains(os, "Android") || strings.Contains(raw, "android"):
		return OSAndroid
	case platform == "iPhone" || platform == "iPad" || platform == "iPod",
		strings.Contains(raw, "iphone"), strings.Contains(raw, "ipad"), strings.Contains(raw, "ipod"):
		return OSIOS
	default:
		return OSDesktop
	}
}

// Env is what the dispatcher knows about a client.
type Env struct {
	OS          OS   `json:"os"`
	Mobile      bool `json:"mobile"`
	NativeShare bool `json:"native_share"`
	NativeFiles bool `json:"native_files"`
}

// EnvFor builds an Env from a user agent and the reported share sheet
// capabilities.
func EnvFor(userAgent string, nativeShare, nativeFiles bool) Env {
	return Env{
		OS:          DetectOS(userAgent),
		Mobile:      useragent.New(userAgent).Mobile(),
		NativeShare: nativeShare,
		NativeFiles: nativeShare && nativeFiles,
	}
}

// EnvOf inspects a platform.
func EnvOf(p Platform) Env {
	n := p.Native()
	return EnvFor(p.UserAgent(), n != nil, n != nil && n.CanShareFiles())
}
