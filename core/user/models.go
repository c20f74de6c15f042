package user

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/record"
)

const Collection = "users"

// PasswordHashCost is the bcrypt cost of new password hashes.
var PasswordHashCost = bcrypt.DefaultCost

type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         core.Role  `json:"role"`
	ClassID      string     `json:"classId,omitempty"` // students
	Subject      string     `json:"subject,omitempty"` // teachers
	Phone        string     `json:"phone,omitempty"`
	IsActive     bool       `json:"isActive"`
	PasswordHash []byte     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`           // UTC
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"` // UTC
	LastLogin    *time.Time `json:"lastLogin,omitempty"` // UTC
}

// storedUser is the persisted form of a User: unlike its JSON form, it keeps the password hash.
type storedUser struct {
	User
	PasswordHash []byte `json:"passwordHash"`
}

func (u User) boil() (record.Document, error) {
	return record.Encode(storedUser{User: u, PasswordHash: u.PasswordHash})
}

func unboil(rec record.Record) (User, error) {
	var su storedUser
	if err := record.Decode(rec, &su); err != nil {
		return User{}, err
	}
	usr := su.User
	usr.PasswordHash = su.PasswordHash
	return usr, nil
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), PasswordHashCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) IsAdmin() bool   { return u.Role == core.RoleAdmin }
func (u User) IsTeacher() bool { return u.Role == core.RoleTeacher }
func (u User) IsStudent() bool { return u.Role == core.RoleStudent }

// Session is the principal of an authenticated User.
func (u User) Session() core.Session {
	claims := map[string]string{
		core.ClaimEmail: u.Email,
		core.ClaimName:  u.Name,
	}
	if u.ClassID != "" {
		claims[core.ClaimClassID] = u.ClassID
	}
	return core.NewSession(u.ID, u.Role, claims)
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string    `json:"name" validate:"required"`
	Email           string    `json:"email" validate:"required,email"`
	Role            core.Role `json:"role" validate:"required,role"`
	ClassID         string    `json:"classId"`
	Subject         string    `json:"subject"`
	Phone           string    `json:"phone"`
	Password        string    `json:"password" validate:"required"`
	PasswordConfirm string    `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Clean() {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.ClassID = core.CleanString(nu.ClassID)
	nu.Subject = core.CleanString(nu.Subject)
	nu.Phone = core.CleanString(nu.Phone)
}

func (nu *NewUser) Validate(validate *validator.Validate, svc *Service) error {
	nu.Clean()
	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.checkUniqueness(nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
// Role scoped fields (email, role, classId, subject, isActive, password) can only be changed by an admin.
type UpdateUser struct {
	Name            string     `json:"name"`
	Phone           *string    `json:"phone"`
	Email           string     `json:"email" validate:"omitempty,email"`
	Role            *core.Role `json:"role" validate:"omitempty,role"`
	ClassID         *string    `json:"classId"`
	Subject         *string    `json:"subject"`
	IsActive        *bool      `json:"isActive"`
	Password        string     `json:"password" validate:"omitempty"`
	PasswordConfirm string     `json:"passwordConfirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) hasRoleScopedFields() bool {
	return uu.Email != "" || uu.Role != nil || uu.ClassID != nil || uu.Subject != nil || uu.IsActive != nil || uu.Password != ""
}

func (uu *UpdateUser) Validate(origUsr User, validate *validator.Validate, svc *Service) error {
	if name := core.CleanString(uu.Name); name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := validate.StructCtx(withOrigUser(origUsr), uu); err != nil {
		return err
	}
	if uu.Email != origUsr.Email {
		return svc.checkUniqueness(uu.Email, origUsr)
	}
	return nil
}

// ChangePassword lets a User replace their own password.
type ChangePassword struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

func (cp ChangePassword) Validate(usr User, validate *validator.Validate) error {
	return validate.StructCtx(withOrigUser(usr), cp)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

type QueryFilter struct {
	Search   string      `query:"search"`
	Roles    []core.Role `query:"role"`
	ClassID  string      `query:"classId"`
	IsActive *bool       `query:"isActive"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.ClassID == "" && qf.IsActive == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search, true /* lower */)
	qf.ClassID = core.CleanString(qf.ClassID)
}

// matchesSearch does a case-insensitive match on the User's name or email.
func (qf *QueryFilter) matchesSearch(usr User) bool {
	if qf.Search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(usr.Name), qf.Search) || strings.Contains(usr.Email, qf.Search)
}
