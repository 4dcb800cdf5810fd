package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"studiobook/internal/models"
)

// Kind identifies the event a notification reports.
type Kind string

const (
	KindCreate         Kind = "create"
	KindUpdate         Kind = "update"
	KindCancel         Kind = "cancel"
	KindDecline        Kind = "decline"
	KindLoginDetails   Kind = "login-details"
	KindAccountCreated Kind = "account-created"
)

// IsBooking reports whether the kind is about a booking and therefore also
// produces an operator summary.
func (k Kind) IsBooking() bool {
	switch k {
	case KindCreate, KindUpdate, KindCancel, KindDecline:
		return true
	default:
		return false
	}
}

// Message is one outbound email.
type Message struct {
	Kind    Kind
	To      string
	Subject string
	Body    string
}

var subjects = map[Kind]string{
	KindCreate:         "Booking Creation Confirmed",
	KindUpdate:         "Booking Edited",
	KindCancel:         "Booking Cancelled",
	KindDecline:        "Your Booking Has Been Declined",
	KindLoginDetails:   "Your Login Details",
	KindAccountCreated: "Your Account Details",
}

var verbs = map[Kind]string{
	KindCreate:  "created",
	KindUpdate:  "updated",
	KindCancel:  "cancelled",
	KindDecline: "declined",
}

const detailsTmpl = `Booking ID: {{.Booking.ID}}
User Name: {{.Booking.UserName}}
Date: {{.Booking.Date}}
Time: {{.Booking.Time}}
Duration: {{.Booking.DurationHours}} hours
{{- if .Equipment}}
Equipment: {{.Equipment}}
{{- end}}
{{- if .Booking.CDJCount}}
CDJs: {{.Booking.CDJCount}}
{{- end}}
Total: {{.Booking.Total}}
Payment Status: {{.Booking.PaymentStatus}}`

var templates = template.Must(template.New("details").Parse(detailsTmpl))

func init() {
	template.Must(templates.New("owner").Parse(`Dear {{.Name}},

Your booking has been {{.Verb}}.

Details:
{{template "details" .}}

Thank you.
`))

	template.Must(templates.New("operator").Parse(`A booking has been {{.Verb}}.

Details:
{{template "details" .}}
{{- if .PaymentLink}}

Confirm Payment Link: {{.PaymentLink}}
{{- end}}
`))

	template.Must(templates.New("decline").Parse(`Dear {{.Name}},

We regret to inform you that your booking with ID {{.Booking.ID}} has been declined for the following reason:

{{.Booking.DeclineReason}}

If you have any questions, please contact us.

Thank you,
The Booking Team
`))

	template.Must(templates.New("credentials").Parse(`Dear {{.Name}},

Your account has been created. You can log in with the following details:

Email: {{.Email}}
Password: {{.Password}}

Please change your password after your first login.

Thank you,
The Booking Team
`))
}

type bookingData struct {
	Booking     *models.Booking
	Name        string
	Verb        string
	Equipment   string
	PaymentLink string
}

type credentialsData struct {
	Name     string
	Email    string
	Password string
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Composer renders notification messages.
type Composer struct {
	OperatorEmail string
	FrontendURL   string
}

// Booking renders the owner message and, for booking kinds, the operator
// summary for b.
func (c Composer) Booking(kind Kind, b *models.Booking, ownerEmail string) ([]Message, error) {
	if !kind.IsBooking() {
		return nil, fmt.Errorf("kind %q is not a booking notification", kind)
	}

	data := bookingData{
		Booking:   b,
		Name:      b.UserName,
		Verb:      verbs[kind],
		Equipment: equipmentNames(b.Equipment),
	}
	if data.Name == "" {
		data.Name = ownerEmail
	}

	var msgs []Message

	ownerTmpl := "owner"
	if kind == KindDecline {
		ownerTmpl = "decline"
	}
	if ownerEmail != "" {
		body, err := render(ownerTmpl, data)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, Message{Kind: kind, To: ownerEmail, Subject: subjects[kind], Body: body})
	}

	if c.OperatorEmail != "" {
		if kind != KindCancel && c.FrontendURL != "" {
			data.PaymentLink = fmt.Sprintf("%s/confirm-payment?bookingId=%s", strings.TrimRight(c.FrontendURL, "/"), b.ID)
		}
		body, err := render("operator", data)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, Message{
			Kind:    kind,
			To:      c.OperatorEmail,
			Subject: "Admin Notification: " + subjects[kind],
			Body:    body,
		})
	}

	return msgs, nil
}

// Credentials renders a login-details or account-created message.
func (c Composer) Credentials(kind Kind, email, password, displayName string) (Message, error) {
	if kind != KindLoginDetails && kind != KindAccountCreated {
		return Message{}, fmt.Errorf("kind %q is not a credentials notification", kind)
	}
	name := displayName
	if name == "" {
		name = email
	}
	body, err := render("credentials", credentialsData{Name: name, Email: email, Password: password})
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, To: email, Subject: subjects[kind], Body: body}, nil
}

func equipmentNames(eq []models.Equipment) string {
	names := make([]string, 0, len(eq))
	for _, e := range eq {
		if e.Name != "" {
			names = append(names, e.Name)
		}
	}
	return strings.Join(names, ", ")
}
