// Package user manages the accounts of admins, teachers and students.
package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/record"
)

var (
	// errors
	ErrEmailExists      = errors.New("a user with this email already exists")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrSelfRegistration = errors.New("only teachers and students can sign up")
)

type Service struct {
	store    record.Store
	mailSvc  core.EmailService
	validate *validator.Validate
	logger   core.Logger
	tokens   tokenGenerator
}

func NewService(store record.Store, mailSvc core.EmailService, validate *validator.Validate, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		store:    store,
		mailSvc:  mailSvc,
		validate: validate,
		logger:   logger,
		tokens: tokenGenerator{
			secretKey: []byte(conf.SecretKey),
			timeout:   conf.PasswordResetTimeoutDelta,
		},
	}
}

// Validator is the validator the Service validates payloads with.
func (svc *Service) Validator() *validator.Validate { return svc.validate }

func (svc *Service) checkUniqueness(email string, exclUsers ...User) error {
	recs, err := svc.store.Query(context.Background(), Collection, []record.Condition{record.Eq("email", email)})
	if err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	for _, rec := range recs {
		excluded := false
		for _, usr := range exclUsers {
			excluded = excluded || usr.ID == rec.ID
		}
		if !excluded {
			return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
		}
	}
	return nil
}

func (svc *Service) create(ctx context.Context, nu NewUser) (User, error) {
	if err := nu.Validate(svc.validate, svc); err != nil {
		return User{}, err
	}

	usr := User{
		Name:      nu.Name,
		Email:     nu.Email,
		Role:      nu.Role,
		Phone:     nu.Phone,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	switch nu.Role {
	case core.RoleStudent:
		usr.ClassID = nu.ClassID
	case core.RoleTeacher:
		usr.Subject = nu.Subject
	case core.RoleAdmin:
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}

	doc, err := usr.boil()
	if err != nil {
		return User{}, err
	}
	if usr.ID, err = svc.store.Create(ctx, Collection, doc); err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}
	return svc.GetByID(ctx, usr.ID)
}

// Register signs up a new teacher or student. Admin accounts are only created by admins.
func (svc *Service) Register(ctx context.Context, nu NewUser) (User, error) {
	switch nu.Role {
	case core.RoleTeacher, core.RoleStudent:
	case core.RoleAdmin:
		return User{}, core.NewValidationError(ErrSelfRegistration, core.FieldError{Field: "role", Error: ErrSelfRegistration.Error()})
	}
	return svc.create(ctx, nu)
}

// Create adds an account of any role; sess cannot grant a role above their own.
func (svc *Service) Create(ctx context.Context, sess core.Session, nu NewUser) (User, error) {
	if err := sess.Authorize(core.RoleAdmin); err != nil {
		return User{}, err
	}
	if nu.Role.Priority() > sess.Role.Priority() {
		return User{}, core.ErrPermissionDenied
	}
	return svc.create(ctx, nu)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	rec, err := svc.store.Get(ctx, Collection, id)
	if err != nil {
		return User{}, err
	}
	return unboil(rec)
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	email = core.CleanString(email, true /* lower */)
	recs, err := svc.store.Query(ctx, Collection, []record.Condition{record.Eq("email", email)})
	if err != nil {
		return User{}, errors.Wrap(err, "querying users by email")
	}
	if len(recs) == 0 {
		return User{}, core.NewNotFoundError(Collection, email)
	}
	return unboil(recs[0])
}

// Query filters users with an AND of the QueryFilter fields, ordered by name unless told otherwise.
// Teachers and admins only.
func (svc *Service) Query(ctx context.Context, sess core.Session, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	if err := sess.Authorize(core.RoleAdmin, core.RoleTeacher); err != nil {
		return nil, err
	}
	filter.Clean()

	var conds []record.Condition
	if len(filter.Roles) > 0 {
		roles := make([]interface{}, 0, len(filter.Roles))
		for _, r := range filter.Roles {
			roles = append(roles, string(r))
		}
		conds = append(conds, record.In("role", roles...))
	}
	if filter.ClassID != "" {
		conds = append(conds, record.Eq("classId", filter.ClassID))
	}
	if filter.IsActive != nil {
		conds = append(conds, record.Eq("isActive", *filter.IsActive))
	}

	recs, err := svc.store.Query(ctx, Collection, conds)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	// ordered in process: role/class filters with an ordering would need a composite index per combination
	record.Sort(recs, ordering)

	users := make([]User, 0, len(recs))
	for _, rec := range recs {
		usr, err := unboil(rec)
		if err != nil {
			return nil, err
		}
		if filter.matchesSearch(usr) {
			users = append(users, usr)
		}
	}
	return users, nil
}

// Roster returns the students of a class, by name.
func (svc *Service) Roster(ctx context.Context, classID string) ([]User, error) {
	recs, err := svc.store.Query(ctx, Collection, []record.Condition{
		record.Eq("role", string(core.RoleStudent)),
		record.Eq("classId", classID),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "querying roster of %s", classID)
	}
	record.Sort(recs, []core.DBOrdering{{Field: "name", Ascending: true}})

	students := make([]User, 0, len(recs))
	for _, rec := range recs {
		usr, err := unboil(rec)
		if err != nil {
			return nil, err
		}
		students = append(students, usr)
	}
	return students, nil
}

// RosterIDs returns the ids of the students of a class.
func (svc *Service) RosterIDs(ctx context.Context, classID string) ([]string, error) {
	students, err := svc.Roster(ctx, classID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(students))
	for _, usr := range students {
		ids = append(ids, usr.ID)
	}
	return ids, nil
}

// Update modifies a User. Users may update their own name and phone; everything else is admin only.
func (svc *Service) Update(ctx context.Context, sess core.Session, id string, uu UpdateUser) (User, error) {
	if err := sess.AuthorizeSelfOr(id, core.RoleAdmin); err != nil {
		return User{}, err
	}
	if !sess.IsAdmin() && uu.hasRoleScopedFields() {
		return User{}, core.ErrPermissionDenied
	}
	if uu.Role != nil && uu.Role.Priority() > sess.Role.Priority() {
		return User{}, core.ErrPermissionDenied
	}

	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := uu.Validate(usr, svc.validate, svc); err != nil {
		return User{}, err
	}

	changes := record.Document{"name": uu.Name, "email": uu.Email}
	if uu.Phone != nil {
		changes["phone"] = core.CleanString(*uu.Phone)
	}
	if uu.Role != nil {
		changes["role"] = string(*uu.Role)
	}
	if uu.ClassID != nil {
		changes["classId"] = core.CleanString(*uu.ClassID)
	}
	if uu.Subject != nil {
		changes["subject"] = core.CleanString(*uu.Subject)
	}
	if uu.IsActive != nil {
		changes["isActive"] = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
		changes["passwordHash"] = usr.PasswordHash
	}

	if err := svc.store.Update(ctx, Collection, id, changes); err != nil {
		return User{}, errors.Wrap(err, "updating user")
	}
	return svc.GetByID(ctx, id)
}

// ChangePassword replaces the password of the signed in User after checking their current one.
func (svc *Service) ChangePassword(ctx context.Context, sess core.Session, cp ChangePassword) error {
	usr, err := svc.GetByID(ctx, sess.UID)
	if err != nil {
		return err
	}
	if err := cp.Validate(usr, svc.validate); err != nil {
		return err
	}
	if err := usr.CheckPassword(cp.CurrentPassword); err != nil {
		return core.NewValidationError(ErrInvalidPassword, core.FieldError{Field: "currentPassword", Error: ErrInvalidPassword.Error()})
	}
	return svc.setPassword(ctx, usr, cp.Password)
}

func (svc *Service) setPassword(ctx context.Context, usr User, pwd string) error {
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	if err := svc.store.Update(ctx, Collection, usr.ID, record.Document{"passwordHash": usr.PasswordHash}); err != nil {
		return errors.Wrap(err, "setting password")
	}
	return nil
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := time.Now().UTC()
	if err := svc.store.Update(ctx, Collection, usr.ID, record.Document{"lastLogin": now}); err != nil {
		return User{}, errors.Wrap(err, "setting last login")
	}
	return svc.GetByID(ctx, usr.ID)
}

// Delete removes accounts; admins cannot delete themselves.
func (svc *Service) Delete(ctx context.Context, sess core.Session, ids ...string) error {
	if err := sess.Authorize(core.RoleAdmin); err != nil {
		return err
	}
	writes := make([]record.Write, 0, len(ids))
	for _, id := range ids {
		if id == sess.UID {
			return core.ErrPermissionDenied
		}
		writes = append(writes, record.Write{Collection: Collection, ID: id, Delete: true})
	}
	if _, err := svc.store.Batch(ctx, writes); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

// RequestPasswordReset emails a password reset link to the active User owning email.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return core.NewNotFoundError(Collection, email)
	}
	svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *Service) sendPasswordResetMail(usr User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]string{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": svc.tokens.makeToken(usr),
		},
	})
}

// ResetPassword sets a new password given a valid password reset token.
func (svc *Service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	if err := rp.Validate(svc.validate); err != nil {
		return err
	}

	invalid := core.NewValidationError(errInvalidToken, core.FieldError{Field: "token", Error: "invalid or expired token"})
	id, err := decodeUID(rp.UID)
	if err != nil {
		return invalid
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return invalid
		}
		return err
	}
	if err := svc.tokens.verifyToken(usr, rp.Token); err != nil {
		svc.logger.Info(fmt.Sprintf("password reset rejected for %s: %v", usr.ID, err))
		return invalid
	}
	return svc.setPassword(ctx, usr, rp.Password)
}
