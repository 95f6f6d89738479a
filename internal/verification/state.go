package verification

// Status is the state of a verification attempt
type Status int

const (
	Editing Status = iota
	Verifying
	Verified // terminal
)

func (s Status) String() string {
	switch s {
	case Editing:
		return "editing"
	case Verifying:
		return "verifying"
	case Verified:
		return "verified"
	default:
		return "unknown"
	}
}

// ResendState is the state of the resend-code button
type ResendState int

const (
	ResendIdle ResendState = iota
	ResendSending
	ResendSent            // terminal
	ResendAlreadyVerified // terminal
	ResendError           // transient, falls back to ResendIdle
)

func (s ResendState) String() string {
	switch s {
	case ResendIdle:
		return "idle"
	case ResendSending:
		return "sending"
	case ResendSent:
		return "sent"
	case ResendAlreadyVerified:
		return "already_verified"
	case ResendError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the resend control is retired for good
func (s ResendState) Terminal() bool {
	return s == ResendSent || s == ResendAlreadyVerified
}

// Snapshot is a consistent copy of the controller state
type Snapshot struct {
	Email      string
	Code       string
	Status     Status
	Resend     ResendState
	StatusText string // the line under the heading, e.g. "Verification code sent to ..."
	AutoSubmit bool   // a deep-link submission is scheduled
	LastError  string
	Locale     string
}

// View is what a host renders for a snapshot
type View struct {
	ShowForm         bool
	ShowConfirmation bool

	StatusText string
	Email      string
	Code       string

	VerifyLabel    string
	VerifyDisabled bool
	ShowSpinner    bool

	ResendLabel    string
	ResendDisabled bool

	// Focus names the input that should hold focus: "email" or "code"
	Focus string

	ConfirmationTitle string
	ConfirmationText  string
	LoginLink         string
}

// Render maps a snapshot to its view
func Render(s Snapshot) View {
	if s.Status == Verified {
		return View{
			ShowConfirmation:  true,
			ConfirmationTitle: "Email Verified!",
			ConfirmationText:  "Your account has been successfully verified. You can now log in.",
			LoginLink:         "/" + s.Locale + "/login",
		}
	}

	v := View{
		ShowForm:    true,
		StatusText:  s.StatusText,
		Email:       s.Email,
		Code:        s.Code,
		VerifyLabel: "Verify Email",
		Focus:       "email",
	}
	if s.Email != "" {
		v.Focus = "code"
	}

	if s.Status == Verifying {
		v.VerifyLabel = "Verifying..."
		v.VerifyDisabled = true
		v.ShowSpinner = true
	}

	switch s.Resend {
	case ResendSending:
		v.ResendLabel = "Sending..."
		v.ResendDisabled = true
	case ResendSent:
		v.ResendLabel = "Code Sent"
		v.ResendDisabled = true
	case ResendAlreadyVerified:
		v.ResendLabel = "Already Verified"
		v.ResendDisabled = true
	default:
		v.ResendLabel = "Resend Code"
	}

	return v
}
