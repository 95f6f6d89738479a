package notify

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the notification channel a message is shown on
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Dispatcher renders categorized, user-visible messages from a key.
// namespace is prepended to the key when resolving, e.g. "api." + "VERIFICATION_CODE_SENT".
type Dispatcher interface {
	Success(key, namespace string)
	Error(keyOrMessage, namespace string)
	Info(key, namespace string)
}

// Message is one dispatched notification
type Message struct {
	Level     Level  `json:"level"`
	Key       string `json:"key"`
	Namespace string `json:"namespace,omitempty"`
	Text      string `json:"text"`
}

// Catalog resolves namespaced keys to localized text
type Catalog map[string]string

// Fallbacks are the literal English texts used when no catalog entry applies
var Fallbacks = Catalog{
	"api.EMAIL_VERIFICATION_SUCCESS":     "Your email has been verified. You can now log in.",
	"api.VERIFICATION_CODE_SENT":         "A new verification code has been sent.",
	"api.EMAIL_ALREADY_VERIFIED":         "This email address is already verified.",
	"verifyEmail.enterEmailAndCode":      "Please enter your email and verification code",
	"verifyEmail.verificationCodeLength": "The verification code must be 6 digits",
	"verifyEmail.enterEmail":             "Please enter your email",
	"comments.loginRequired":             "Please login to reply",
	"comments.required":                  "Reply content is required",
	"comments.replySuccess":              "Reply added successfully",
	"comments.error":                     "Error adding reply",
	"errors.network":                     "Network error, please try again",
	"dashboard.errorLoadingData":         "Error loading data",
	"dashboard.accessDenied":             "Access denied. Administrator privileges are required.",
}

// Resolve returns the text for namespace+key, trying the catalog, then the
// fallbacks, then the bare key, then the literal key itself
func (c Catalog) Resolve(key, namespace string) string {
	candidates := []string{namespace + key}
	if namespace != "" && !strings.HasPrefix(key, namespace) {
		candidates = append(candidates, key)
	}
	for _, candidate := range candidates {
		if text, ok := c[candidate]; ok && text != "" {
			return text
		}
		if text, ok := Fallbacks[candidate]; ok {
			return text
		}
	}
	return key
}

// Console writes notifications as lines to a writer
type Console struct {
	out     io.Writer
	catalog Catalog
	logger  zerolog.Logger
	mu      sync.Mutex
}

// NewConsole creates a console dispatcher; a nil writer means stdout
func NewConsole(out io.Writer, catalog Catalog) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, catalog: catalog, logger: log.Logger}
}

func (c *Console) Success(key, namespace string) { c.write(LevelSuccess, key, namespace) }
func (c *Console) Error(key, namespace string)   { c.write(LevelError, key, namespace) }
func (c *Console) Info(key, namespace string)    { c.write(LevelInfo, key, namespace) }

func (c *Console) write(level Level, key, namespace string) {
	text := c.catalog.Resolve(key, namespace)

	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := map[Level]string{LevelSuccess: "✓", LevelInfo: "ℹ", LevelError: "✗"}[level]
	fmt.Fprintf(c.out, "%s %s\n", prefix, text)

	c.logger.Debug().
		Str("level", string(level)).
		Str("key", namespace+key).
		Msg("Notification dispatched")
}

// Recorder keeps dispatched notifications in memory; hosts without a display
// and tests use it
type Recorder struct {
	catalog Catalog

	mu       sync.Mutex
	messages []Message
}

// NewRecorder creates a recorder resolving through catalog
func NewRecorder(catalog Catalog) *Recorder {
	return &Recorder{catalog: catalog}
}

func (r *Recorder) Success(key, namespace string) { r.add(LevelSuccess, key, namespace) }
func (r *Recorder) Error(key, namespace string)   { r.add(LevelError, key, namespace) }
func (r *Recorder) Info(key, namespace string)    { r.add(LevelInfo, key, namespace) }

func (r *Recorder) add(level Level, key, namespace string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{
		Level:     level,
		Key:       key,
		Namespace: namespace,
		Text:      r.catalog.Resolve(key, namespace),
	})
}

// Messages returns a copy of everything recorded so far
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// ByLevel returns the recorded messages of one level
func (r *Recorder) ByLevel(level Level) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}
