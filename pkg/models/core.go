// Package models defines the payload catalogue of the MCP Apps protocol and the
// subset of backend MCP payloads the bridge forwards.
package models

import (
	"fmt"
	"strings"
)

// Role represents the sender or recipient in a conversation
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Implementation describes the name and version of an MCP implementation
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitempty"`
}

// Validate checks that the identifying fields are present.
func (i Implementation) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("implementation name is required")
	}
	if strings.TrimSpace(i.Version) == "" {
		return fmt.Errorf("implementation version is required")
	}
	return nil
}

// Annotations provides metadata about how objects should be used or displayed
type Annotations struct {
	Audience []Role   `json:"audience,omitempty"`
	Priority *float64 `json:"priority,omitempty"`
}

// Cursor represents an opaque token used for pagination
type Cursor string

// PaginatedParams is the params shape of every list request.
type PaginatedParams struct {
	Cursor Cursor `json:"cursor,omitempty"`
}

// LoggingLevel represents the severity of a log message
type LoggingLevel string

const (
	LoggingLevelEmergency LoggingLevel = "emergency"
	LoggingLevelAlert     LoggingLevel = "alert"
	LoggingLevelCritical  LoggingLevel = "critical"
	LoggingLevelError     LoggingLevel = "error"
	LoggingLevelWarning   LoggingLevel = "warning"
	LoggingLevelNotice    LoggingLevel = "notice"
	LoggingLevelInfo      LoggingLevel = "info"
	LoggingLevelDebug     LoggingLevel = "debug"
)

var levelSeverity = map[LoggingLevel]int{
	LoggingLevelDebug:     0,
	LoggingLevelInfo:      1,
	LoggingLevelNotice:    2,
	LoggingLevelWarning:   3,
	LoggingLevelError:     4,
	LoggingLevelCritical:  5,
	LoggingLevelAlert:     6,
	LoggingLevelEmergency: 7,
}

// Valid reports whether l is one of the syslog levels.
func (l LoggingLevel) Valid() bool {
	_, ok := levelSeverity[l]
	return ok
}

// Enabled reports whether a message at level l passes a min threshold.
// Unknown levels are treated as info.
func (l LoggingLevel) Enabled(min LoggingLevel) bool {
	return l.severity() >= min.severity()
}

func (l LoggingLevel) severity() int {
	if s, ok := levelSeverity[l]; ok {
		return s
	}
	return levelSeverity[LoggingLevelInfo]
}

// DisplayMode is how the host presents the guest.
type DisplayMode string

const (
	DisplayModeInline     DisplayMode = "inline"
	DisplayModeFullscreen DisplayMode = "fullscreen"
	DisplayModePiP        DisplayMode = "pip"
)

// Theme is the host color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Platform is the broad class of host device.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformDesktop Platform = "desktop"
	PlatformMobile  Platform = "mobile"
)
