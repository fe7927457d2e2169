package commands

import (
	"fmt"
	"log/slog"
	"time"

	"bestiary/cmd/internal/auth/session"
	"bestiary/cmd/internal/creature"
	"bestiary/cmd/internal/dispatch"
	"bestiary/cmd/internal/mail"
	"bestiary/cmd/identity"
	"bestiary/cmd/security/password"
	"bestiary/cmd/security/token"
	v1 "bestiary/shared/contracts/wire/v1"
)

// Wire command names.
const (
	CmdLogin                = "login"
	CmdLogout               = "logout"
	CmdRegister             = "register"
	CmdConfirmRegistration  = "confirm_registration"
	CmdRequestPasswordReset = "request_password_reset"
	CmdResetPassword        = "reset_password"
	CmdChangePassword       = "change_password"
	CmdCreateCreature       = "create_creature"
	CmdModifyCreature       = "modify_creature"
	CmdDeleteCreature       = "delete_creature"
	CmdRequestUsers         = "request_users"
	CmdRequestCreatures     = "request_creatures"
	CmdInfo                 = "info"
)

// Publisher delivers an event envelope to every subscribed client.
type Publisher interface {
	Publish(e v1.Envelope)
}

// Env aggregates what handlers need. Users and Creatures are nil when
// the server runs without storage; affected commands then report
// DB_NOT_SUPPORTED through dispatch.ErrUnavailable.
type Env struct {
	Gate      *session.Gate
	Users     identity.Store
	Creatures creature.Store
	Hasher    password.Hasher
	Mail      mail.Sender
	Pub       Publisher
	Log       *slog.Logger

	// CodeDigits is the decimal width of emailed codes.
	CodeDigits int

	// RegistrationTTL and ResetTTL bound the emailed codes' lifetime.
	RegistrationTTL time.Duration
	ResetTTL        time.Duration

	// CreatureQuota caps records per account; <=0 means unlimited.
	CreatureQuota int64

	// CodeRetries bounds code regeneration on collision.
	CodeRetries int
}

func (e *Env) normalize() {
	if e.Log == nil {
		e.Log = slog.Default()
	}
	if e.CodeDigits < token.MinDigits || e.CodeDigits > token.MaxDigits {
		e.CodeDigits = token.DefaultDigits
	}
	if e.RegistrationTTL <= 0 {
		e.RegistrationTTL = 24 * time.Hour
	}
	if e.ResetTTL <= 0 {
		e.ResetTTL = time.Hour
	}
	if e.CodeRetries < 1 {
		e.CodeRetries = 16
	}
}

// Registry builds the command table.
func (e *Env) Registry() (*dispatch.Registry, error) {
	if e.Gate == nil || e.Mail == nil || e.Pub == nil {
		return nil, fmt.Errorf("commands: nil dependency")
	}
	e.normalize()

	reg := dispatch.NewRegistry()
	for _, d := range []dispatch.Descriptor{
		{Name: CmdLogin, Invoke: e.login},
		{Name: CmdLogout, RequiresAuth: true, Invoke: e.logout},
		{Name: CmdRegister, Invoke: e.register},
		{Name: CmdConfirmRegistration, Invoke: e.confirmRegistration},
		{Name: CmdRequestPasswordReset, Invoke: e.requestPasswordReset},
		{Name: CmdResetPassword, Invoke: e.resetPassword},
		{Name: CmdChangePassword, RequiresAuth: true, ExtendsSession: true, Invoke: e.changePassword},
		{Name: CmdCreateCreature, RequiresAuth: true, ExtendsSession: true, Invoke: e.createCreature},
		{Name: CmdModifyCreature, RequiresAuth: true, ExtendsSession: true, Invoke: e.modifyCreature},
		{Name: CmdDeleteCreature, RequiresAuth: true, ExtendsSession: true, Invoke: e.deleteCreature},
		{Name: CmdRequestUsers, RequiresAuth: true, Invoke: e.requestUsers},
		{Name: CmdRequestCreatures, RequiresAuth: true, Invoke: e.requestCreatures},
		{Name: CmdInfo, Invoke: e.info},
	} {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func reply(name string, payload *v1.Payload) (*v1.Envelope, error) {
	e := v1.Reply(name, payload, true)
	return &e, nil
}

func outcome(name string) (*v1.Envelope, error) {
	return reply(name, nil)
}
