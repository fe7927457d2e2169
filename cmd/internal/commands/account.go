package commands

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"bestiary/cmd/internal/auth/session"
	"bestiary/cmd/internal/dispatch"
	"bestiary/cmd/identity"
	"bestiary/cmd/security/password"
	"bestiary/cmd/security/token"
	v1 "bestiary/shared/contracts/wire/v1"
)

var (
	nameRe  = regexp.MustCompile(`^[A-Za-z0-9_]{2,64}$`)
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// login expects a strings payload [email, password]. The reply maps
// unknown email and wrong password to the same WRONG outcome.
func (e *Env) login(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	vals, err := req.Envelope.Payload.AsStrings()
	if err != nil || len(vals) != 2 {
		return outcome(v1.OutcomeBadRequest)
	}
	if e.Users == nil {
		return nil, dispatch.ErrUnavailable
	}

	u, sess, err := e.Gate.Login(ctx, req.Now, vals[0], vals[1])
	if errors.Is(err, session.ErrWrongCredentials) {
		return outcome(v1.OutcomeWrong)
	}
	if err != nil {
		return nil, err
	}

	return reply(v1.OutcomeOK, v1.MapPayload(map[string]string{
		"userid": strconv.FormatInt(u.ID, 10),
		"token":  strconv.FormatInt(sess.Token, 10),
		"name":   u.Name,
	}))
}

// logout tears the session down and stays silent: the client treats
// the connection as logged out regardless.
func (e *Env) logout(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	err := e.Gate.Logout(ctx, req.Now, req.UserID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}
	return nil, nil
}

// register expects strings [name, email, password] and leaves a
// pending registration plus an emailed confirmation code.
func (e *Env) register(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	vals, err := req.Envelope.Payload.AsStrings()
	if err != nil || len(vals) != 3 {
		return outcome(v1.OutcomeBadRequest)
	}
	name, email, pass := vals[0], vals[1], vals[2]

	if !nameRe.MatchString(name) {
		return outcome(v1.OutcomeIncorrectName)
	}
	if !emailRe.MatchString(email) {
		return outcome(v1.OutcomeIncorrectEmail)
	}
	if bad := e.checkPassword(pass); bad != "" {
		return outcome(bad)
	}
	if e.Users == nil {
		return nil, dispatch.ErrUnavailable
	}

	if _, err := e.Users.UserByEmail(ctx, email); err == nil {
		return outcome(v1.OutcomeEmailExists)
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}
	if pending, err := e.Users.PendingEmailExists(ctx, email, req.Now); err != nil {
		return nil, err
	} else if pending {
		return outcome(v1.OutcomeEmailInUse)
	}

	hash, err := e.Hasher.Hash(pass)
	if err != nil {
		return nil, err
	}

	var code int64
	for i := 0; ; i++ {
		code, err = token.Code(e.CodeDigits)
		if err != nil {
			return nil, err
		}
		err = e.Users.CreatePending(ctx, identity.PendingRegistration{
			Code:         code,
			Name:         name,
			Email:        email,
			PasswordHash: hash,
			Expires:      req.Now.Add(e.RegistrationTTL),
		})
		if errors.Is(err, identity.ErrCodeTaken) && i < e.CodeRetries {
			continue
		}
		if errors.Is(err, identity.ErrEmailTaken) {
			return outcome(v1.OutcomeEmailExists)
		}
		if err != nil {
			return nil, err
		}
		break
	}

	body := fmt.Sprintf("<p>Your confirmation code is <b>%d</b>.</p>", code)
	if err := e.Mail.Send(ctx, email, "Confirm your registration", body); err != nil {
		return nil, err
	}
	e.Log.Info("commands.register.pending", "email", identity.NormalizeEmail(email))
	return outcome(v1.OutcomeOK)
}

// confirmRegistration expects an int payload carrying the emailed
// code.
func (e *Env) confirmRegistration(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	code, err := req.Envelope.Payload.AsInt()
	if err != nil {
		return outcome(v1.OutcomeBadRequest)
	}
	if e.Users == nil {
		return nil, dispatch.ErrUnavailable
	}

	u, err := e.Users.ClaimPending(ctx, code, req.Now)
	if errors.Is(err, identity.ErrNotFound) || errors.Is(err, identity.ErrEmailTaken) {
		return outcome(v1.OutcomeWrong)
	}
	if err != nil {
		return nil, err
	}

	e.Log.Info("commands.register.confirmed", "user_id", u.ID)
	return outcome(v1.OutcomeOK)
}

// requestPasswordReset expects a string payload with the account
// email and mails the user id plus a reset code.
func (e *Env) requestPasswordReset(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	email, err := req.Envelope.Payload.AsString()
	if err != nil {
		return outcome(v1.OutcomeBadRequest)
	}
	if e.Users == nil {
		return nil, dispatch.ErrUnavailable
	}

	u, err := e.Users.UserByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		return outcome(v1.OutcomeEmailNotExist)
	}
	if err != nil {
		return nil, err
	}

	var active int64
	for i := 0; ; i++ {
		code, err := token.Code(e.CodeDigits)
		if err != nil {
			return nil, err
		}
		active, err = e.Users.IssueResetCode(ctx, u.ID, code, req.Now.Add(e.ResetTTL), req.Now)
		if errors.Is(err, identity.ErrCodeTaken) && i < e.CodeRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	body := fmt.Sprintf("<p>Your user id is <b>%d</b>, your reset code is <b>%d</b>.</p>", u.ID, active)
	if err := e.Mail.Send(ctx, u.Email, "Password reset", body); err != nil {
		return nil, err
	}
	return outcome(v1.OutcomeOK)
}

// resetPassword expects strings [userid, code, newPassword].
func (e *Env) resetPassword(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	vals, err := req.Envelope.Payload.AsStrings()
	if err != nil || len(vals) != 3 {
		return outcome(v1.OutcomeBadRequest)
	}
	userID, err1 := strconv.ParseInt(vals[0], 10, 64)
	code, err2 := strconv.ParseInt(vals[1], 10, 64)
	if err1 != nil || err2 != nil {
		return outcome(v1.OutcomeBadRequest)
	}
	if bad := e.checkPassword(vals[2]); bad != "" {
		return outcome(bad)
	}
	if e.Users == nil {
		return nil, dispatch.ErrUnavailable
	}

	if err := e.Users.ClaimResetCode(ctx, userID, code, req.Now); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return outcome(v1.OutcomeWrong)
		}
		return nil, err
	}

	hash, err := e.Hasher.Hash(vals[2])
	if err != nil {
		return nil, err
	}
	if err := e.Users.SetPassword(ctx, userID, hash); err != nil {
		return nil, err
	}

	e.Log.Info("commands.password.reset", "user_id", userID)
	return outcome(v1.OutcomeOK)
}

// changePassword expects strings [oldPassword, newPassword] on an
// authenticated envelope.
func (e *Env) changePassword(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	vals, err := req.Envelope.Payload.AsStrings()
	if err != nil || len(vals) != 2 {
		return outcome(v1.OutcomeBadRequest)
	}
	if e.Users == nil {
		return nil, dispatch.ErrUnavailable
	}

	u, err := e.Users.UserByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	ok, err := e.Hasher.Verify(u.PasswordHash, vals[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		return outcome(v1.OutcomeWrongPassword)
	}
	if bad := e.checkPassword(vals[1]); bad != "" {
		return outcome(bad)
	}

	hash, err := e.Hasher.Hash(vals[1])
	if err != nil {
		return nil, err
	}
	if err := e.Users.SetPassword(ctx, u.ID, hash); err != nil {
		return nil, err
	}

	e.Log.Info("commands.password.changed", "user_id", u.ID)
	return outcome(v1.OutcomeOK)
}

// checkPassword maps policy violations to their wire outcomes; empty
// string means the password is acceptable.
func (e *Env) checkPassword(pass string) string {
	switch err := e.Hasher.Check(pass); {
	case err == nil:
		return ""
	case errors.Is(err, password.ErrTooShort):
		return v1.OutcomeShortPassword
	case errors.Is(err, password.ErrWeak):
		return v1.OutcomeWeakPassword
	default:
		return v1.OutcomeBadRequest
	}
}
