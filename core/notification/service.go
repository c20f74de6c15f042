package notification

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/record"
)

var newestFirst = core.ParseOrdering("-createdAt")

type Service struct {
	store  record.Store
	logger core.Logger
}

func NewService(store record.Store, logger core.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func conditions(userID string, unreadOnly bool) []record.Condition {
	conds := []record.Condition{record.Eq("userId", userID)}
	if unreadOnly {
		conds = append(conds, record.Eq("read", false))
	}
	return conds
}

func decodeAll(recs []record.Record) ([]Notification, error) {
	// equality-only query, ordered in process: no composite index needed
	record.Sort(recs, newestFirst)
	notifs := make([]Notification, 0, len(recs))
	for _, rec := range recs {
		var n Notification
		if err := record.Decode(rec, &n); err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, nil
}

// List returns the notifications of the session's user, newest first.
func (svc *Service) List(ctx context.Context, sess core.Session, unreadOnly bool) ([]Notification, error) {
	if err := sess.Authorize(core.AllRoles...); err != nil {
		return nil, err
	}
	recs, err := svc.store.Query(ctx, Collection, conditions(sess.UID, unreadOnly))
	if err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	return decodeAll(recs)
}

func (svc *Service) UnreadCount(ctx context.Context, sess core.Session) (int, error) {
	if err := sess.Authorize(core.AllRoles...); err != nil {
		return 0, err
	}
	recs, err := svc.store.Query(ctx, Collection, conditions(sess.UID, true))
	if err != nil {
		return 0, errors.Wrap(err, "querying notifications")
	}
	return len(recs), nil
}

// MarkRead flips one notification of the session's user to read.
func (svc *Service) MarkRead(ctx context.Context, sess core.Session, id string) error {
	if err := sess.Authorize(core.AllRoles...); err != nil {
		return err
	}
	rec, err := svc.store.Get(ctx, Collection, id)
	if err != nil {
		return err
	}
	if userID, _ := rec.Data["userId"].(string); userID != sess.UID {
		// someone else's notification does not exist for this user
		return core.NewNotFoundError(Collection, id)
	}
	if read, _ := rec.Data["read"].(bool); read {
		return nil
	}
	return errors.Wrap(svc.store.Update(ctx, Collection, id, record.Document{"read": true}), "marking notification read")
}

// MarkAllRead flips every unread notification of the session's user in one batch, and returns how many.
func (svc *Service) MarkAllRead(ctx context.Context, sess core.Session) (int, error) {
	if err := sess.Authorize(core.AllRoles...); err != nil {
		return 0, err
	}
	recs, err := svc.store.Query(ctx, Collection, conditions(sess.UID, true))
	if err != nil {
		return 0, errors.Wrap(err, "querying notifications")
	}
	if len(recs) == 0 {
		return 0, nil
	}

	writes := make([]record.Write, 0, len(recs))
	for _, rec := range recs {
		data := rec.Clone().Data
		data["read"] = true
		writes = append(writes, record.Write{Collection: Collection, ID: rec.ID, Data: data})
	}
	if _, err := svc.store.Batch(ctx, writes); err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	return len(writes), nil
}

// Subscribe feeds onChange with the unread notifications of the session's user, newest first, until
// the returned func is called or ctx is done.
func (svc *Service) Subscribe(ctx context.Context, sess core.Session, onChange func([]Notification)) (record.Unsubscribe, error) {
	if err := sess.Authorize(core.AllRoles...); err != nil {
		return nil, err
	}
	return svc.store.Subscribe(ctx, Collection, conditions(sess.UID, true), func(recs []record.Record) {
		notifs, err := decodeAll(recs)
		if err != nil {
			svc.logger.Error(fmt.Sprintf("decoding notifications of %s: %v", sess.UID, err), err, sess)
			return
		}
		onChange(notifs)
	})
}
