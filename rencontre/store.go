package rencontre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"log/slog"
	"strconv"
	"time"
)

const (
	settingLikeCooldown    = "like_cooldown"
	settingContactCooldown = "contact_cooldown"
	settingLastRunAt       = "speed_dating_last_run_at"
	settingWelcomePanel    = "welcome_panel"

	defaultSpeedEventListLimit = 25
	maxSpeedEventListLimit     = 200
)

// Profile is a user's completed questionnaire
type Profile struct {
	ModelUserID
	Age         int    `json:"age"`
	Gender      string `gorm:"size:16" json:"gender"`
	Orientation string `json:"orientation"`
	Passions    string `json:"passions"`
	Activity    string `json:"activity"`
	PhotoURL    string `json:"photo_url"`
	ModelUnixTime
}

// ProfileFromDraft builds a Profile from a completed questionnaire
func ProfileFromDraft(userID string, draft ProfileDraft) *Profile {
	return &Profile{
		ModelUserID: ModelUserID{UserID: userID},
		Age:         draft.Age,
		Gender:      draft.Gender,
		Orientation: draft.Orientation,
		Passions:    draft.Passions,
		Activity:    draft.Activity,
		PhotoURL:    draft.PhotoURL,
	}
}

func (p Profile) IsFemale() bool {
	return p.Gender == GenderFemale
}

func (p Profile) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", p.UserID),
		slog.Int("age", p.Age),
		slog.String("gender", p.Gender),
	)
}

// PublicationRef points to the message holding a user's profile card.
// It may be stale, if the message was deleted outside the bot.
type PublicationRef struct {
	ModelUserID
	ChannelID string `gorm:"size:32" json:"channel_id"`
	MessageID string `gorm:"size:32" json:"message_id"`
	ModelUnixTime
}

// RosterEntry is a user opted into the next speed dating run
type RosterEntry struct {
	ModelUserID
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at"`
}

type Like struct {
	ModelUintID
	FromUserID string `gorm:"size:32;index" json:"from_user_id"`
	ToUserID   string `gorm:"size:32;index" json:"to_user_id"`
	CreatedAt  int64  `gorm:"autoCreateTime:milli" json:"created_at"`
}

type Ban struct {
	ModelUserID
	Reason    string `json:"reason,omitempty"`
	BannedBy  string `gorm:"size:32" json:"banned_by,omitempty"`
	CreatedAt int64  `gorm:"autoCreateTime:milli" json:"created_at"`
}

// Owner is a bot owner. Owners may start speed dating runs and delete
// any profile.
type Owner struct {
	ModelUserID
	AddedBy   string `gorm:"size:32" json:"added_by,omitempty"`
	CreatedAt int64  `gorm:"autoCreateTime:milli" json:"created_at"`
}

// Setting is a persisted key/value pair overlaid on config defaults
type Setting struct {
	Key       string `gorm:"primaryKey;size:64" json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

// SpeedEventRecord is the audit record of a closed speed dating run
type SpeedEventRecord struct {
	ModelUintID
	SessionID     string            `gorm:"size:36;uniqueIndex" json:"session_id"`
	RequestedBy   string            `gorm:"size:32" json:"requested_by"`
	StartedAt     int64             `json:"started_at"`
	ClosedAt      int64             `json:"closed_at"`
	Duration      time.Duration     `json:"duration"`
	Conversations []ConversationRef `gorm:"serializer:json" json:"conversations"`
	Unpaired      []string          `gorm:"serializer:json" json:"unpaired"`
	Failures      []Failure         `gorm:"serializer:json" json:"failures"`
	CreatedAt     int64             `gorm:"autoCreateTime:milli" json:"created_at"`
}

// MessageRef identifies a message in a channel
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// InteractionSettings are the effective profile card cooldowns
type InteractionSettings struct {
	LikeCooldown    time.Duration `json:"like_cooldown"`
	ContactCooldown time.Duration `json:"contact_cooldown"`
}

// Stats counts what's stored
type Stats struct {
	Profiles  int64 `json:"profiles"`
	Published int64 `json:"published"`
	Bans      int64 `json:"bans"`
	Roster    int64 `json:"roster"`
	Likes     int64 `json:"likes"`
	Owners    int64 `json:"owners"`
}

// PublishedPercent is the share of profiles with a card, rounded to
// one decimal
func (s Stats) PublishedPercent() float64 {
	if s.Profiles == 0 {
		return 0
	}
	pct := float64(s.Published) / float64(s.Profiles) * 100
	return float64(int64(pct*10+0.5)) / 10
}

// Store is the durable state of the bot
type Store interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	SetProfile(ctx context.Context, profile *Profile) error
	DeleteProfile(ctx context.Context, userID string) (*PublicationRef, error)

	GetPublication(ctx context.Context, userID string) (*PublicationRef, error)
	SetPublication(ctx context.Context, userID string, channelID string, messageID string) error
	DeletePublication(ctx context.Context, userID string) error

	GetRoster(ctx context.Context) ([]string, error)
	AddToRoster(ctx context.Context, userID string) (bool, error)
	RemoveFromRoster(ctx context.Context, userID string) (bool, error)
	ClearRoster(ctx context.Context) (int64, error)

	RunClock

	IsBanned(ctx context.Context, userID string) (bool, error)
	Ban(ctx context.Context, userID string, reason string, bannedBy string) error
	Unban(ctx context.Context, userID string) (bool, error)
	ListBans(ctx context.Context) ([]Ban, error)

	IsOwner(ctx context.Context, userID string) (bool, error)
	AddOwner(ctx context.Context, userID string, addedBy string) error
	RemoveOwner(ctx context.Context, userID string) (bool, error)
	ListOwners(ctx context.Context) ([]Owner, error)

	Settings(ctx context.Context) (InteractionSettings, error)
	SetLikeCooldown(ctx context.Context, d time.Duration) error
	SetContactCooldown(ctx context.Context, d time.Duration) error

	GetWelcomePanel(ctx context.Context) (*MessageRef, error)
	SetWelcomePanel(ctx context.Context, ref MessageRef) error

	RecordLike(ctx context.Context, fromUserID string, toUserID string) error
	Stats(ctx context.Context) (Stats, error)

	SaveSpeedEvent(ctx context.Context, report *Report) error
	ListSpeedEvents(ctx context.Context, limit int) ([]SpeedEventRecord, error)
}

// GormStore implements Store with gorm. Reads go straight to the
// connection, writes through DBI.
type GormStore struct {
	db       DBI
	defaults InteractionSettings
	logger   *slog.Logger
}

func NewGormStore(db DBI, defaults *InteractionsConfig, logger *slog.Logger) *GormStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &GormStore{
		db:     db,
		logger: logger,
		defaults: InteractionSettings{
			LikeCooldown:    DefaultLikeCooldown,
			ContactCooldown: DefaultContactCooldown,
		},
	}
	if defaults != nil {
		s.defaults = InteractionSettings{
			LikeCooldown:    defaults.LikeCooldown,
			ContactCooldown: defaults.ContactCooldown,
		}
	}
	return s
}

func (s *GormStore) read(ctx context.Context) *gorm.DB {
	return s.db.DB().WithContext(ctx)
}

func (s *GormStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := s.read(ctx).Where("user_id = ?", userID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetProfile inserts or overwrites the profile. Overwriting keeps the
// original creation time.
func (s *GormStore) SetProfile(ctx context.Context, profile *Profile) error {
	if profile.UserID == "" {
		return errors.New("profile has no user ID")
	}
	return s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			var existing Profile
			err := tx.Where("user_id = ?", profile.UserID).Take(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				profile.CreatedAt = 0
				return tx.Create(profile).Error
			case err != nil:
				return err
			default:
				profile.CreatedAt = existing.CreatedAt
				return tx.Save(profile).Error
			}
		},
	)
}

// DeleteProfile removes the profile along with its publication
// reference, roster entry and likes, in one transaction. The removed
// publication reference is returned (nil if there wasn't one) so the
// card can be deleted.
func (s *GormStore) DeleteProfile(ctx context.Context, userID string) (*PublicationRef, error) {
	var ref *PublicationRef
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			var pub PublicationRef
			err := tx.Where("user_id = ?", userID).Take(&pub).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
			case err != nil:
				return err
			default:
				ref = &pub
			}

			if err = tx.Where("user_id = ?", userID).Delete(&PublicationRef{}).Error; err != nil {
				return err
			}
			if err = tx.Where("user_id = ?", userID).Delete(&Profile{}).Error; err != nil {
				return err
			}
			if err = tx.Where("user_id = ?", userID).Delete(&RosterEntry{}).Error; err != nil {
				return err
			}
			return tx.Where(
				"from_user_id = ? OR to_user_id = ?",
				userID,
				userID,
			).Delete(&Like{}).Error
		},
	)
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// GetPublication returns nil, without an error, when the user has no card
func (s *GormStore) GetPublication(ctx context.Context, userID string) (*PublicationRef, error) {
	var pub PublicationRef
	err := s.read(ctx).Where("user_id = ?", userID).Take(&pub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pub, nil
}

func (s *GormStore) SetPublication(
	ctx context.Context,
	userID string,
	channelID string,
	messageID string,
) error {
	pub := &PublicationRef{
		ModelUserID: ModelUserID{UserID: userID},
		ChannelID:   channelID,
		MessageID:   messageID,
	}
	return s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: "user_id"}},
					DoUpdates: clause.AssignmentColumns([]string{"channel_id", "message_id", "updated_at"}),
				},
			).Create(pub).Error
		},
	)
}

func (s *GormStore) DeletePublication(ctx context.Context, userID string) error {
	_, err := s.db.Delete(ctx, &PublicationRef{}, "user_id = ?", userID)
	return err
}

// GetRoster returns opted-in users, oldest first
func (s *GormStore) GetRoster(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.read(ctx).Model(&RosterEntry{}).Order("created_at, user_id").Pluck("user_id", &ids).Error
	return ids, err
}

// AddToRoster reports whether the user was added (false if already there)
func (s *GormStore) AddToRoster(ctx context.Context, userID string) (bool, error) {
	var added bool
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			rv := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(
				&RosterEntry{ModelUserID: ModelUserID{UserID: userID}},
			)
			added = rv.RowsAffected > 0
			return rv.Error
		},
	)
	return added, err
}

func (s *GormStore) RemoveFromRoster(ctx context.Context, userID string) (bool, error) {
	n, err := s.db.Delete(ctx, &RosterEntry{}, "user_id = ?", userID)
	return n > 0, err
}

func (s *GormStore) ClearRoster(ctx context.Context) (int64, error) {
	return s.db.Delete(ctx, &RosterEntry{}, "1 = 1")
}

// GetLastRunAt returns the zero time if no run was recorded
func (s *GormStore) GetLastRunAt(ctx context.Context) (time.Time, error) {
	v, ok, err := s.getSetting(ctx, settingLastRunAt)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s setting %q: %w", settingLastRunAt, v, err)
	}
	return time.UnixMilli(ms), nil
}

func (s *GormStore) SetLastRunAt(ctx context.Context, t time.Time) error {
	return s.setSetting(ctx, settingLastRunAt, strconv.FormatInt(t.UnixMilli(), 10))
}

func (s *GormStore) IsBanned(ctx context.Context, userID string) (bool, error) {
	var n int64
	err := s.read(ctx).Model(&Ban{}).Where("user_id = ?", userID).Count(&n).Error
	return n > 0, err
}

// Ban adds or updates a ban. The caller is responsible for resetting
// the user's profile.
func (s *GormStore) Ban(ctx context.Context, userID string, reason string, bannedBy string) error {
	_, err := s.db.Save(
		ctx, &Ban{
			ModelUserID: ModelUserID{UserID: userID},
			Reason:      reason,
			BannedBy:    bannedBy,
			CreatedAt:   time.Now().UnixMilli(),
		},
	)
	return err
}

func (s *GormStore) Unban(ctx context.Context, userID string) (bool, error) {
	n, err := s.db.Delete(ctx, &Ban{}, "user_id = ?", userID)
	return n > 0, err
}

func (s *GormStore) ListBans(ctx context.Context) ([]Ban, error) {
	var bans []Ban
	err := s.read(ctx).Order("created_at").Find(&bans).Error
	return bans, err
}

func (s *GormStore) IsOwner(ctx context.Context, userID string) (bool, error) {
	var n int64
	err := s.read(ctx).Model(&Owner{}).Where("user_id = ?", userID).Count(&n).Error
	return n > 0, err
}

func (s *GormStore) AddOwner(ctx context.Context, userID string, addedBy string) error {
	return s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(
				&Owner{ModelUserID: ModelUserID{UserID: userID}, AddedBy: addedBy},
			).Error
		},
	)
}

func (s *GormStore) RemoveOwner(ctx context.Context, userID string) (bool, error) {
	n, err := s.db.Delete(ctx, &Owner{}, "user_id = ?", userID)
	return n > 0, err
}

func (s *GormStore) ListOwners(ctx context.Context) ([]Owner, error) {
	var owners []Owner
	err := s.read(ctx).Order("created_at").Find(&owners).Error
	return owners, err
}

// Settings returns the configured cooldowns, overridden by any value
// persisted with /setcooldown
func (s *GormStore) Settings(ctx context.Context) (InteractionSettings, error) {
	settings := s.defaults

	var rows []Setting
	err := s.read(ctx).Where(
		"key IN ?",
		[]string{settingLikeCooldown, settingContactCooldown},
	).Find(&rows).Error
	if err != nil {
		return settings, err
	}
	for _, row := range rows {
		d, parseErr := time.ParseDuration(row.Value)
		if parseErr != nil {
			s.logger.WarnContext(
				ctx,
				"ignoring invalid setting",
				"key", row.Key,
				"value", row.Value,
				"error", parseErr,
			)
			continue
		}
		switch row.Key {
		case settingLikeCooldown:
			settings.LikeCooldown = d
		case settingContactCooldown:
			settings.ContactCooldown = d
		}
	}
	return settings, nil
}

func (s *GormStore) SetLikeCooldown(ctx context.Context, d time.Duration) error {
	return s.setSetting(ctx, settingLikeCooldown, d.String())
}

func (s *GormStore) SetContactCooldown(ctx context.Context, d time.Duration) error {
	return s.setSetting(ctx, settingContactCooldown, d.String())
}

// GetWelcomePanel returns nil, without an error, if no panel was posted
func (s *GormStore) GetWelcomePanel(ctx context.Context) (*MessageRef, error) {
	v, ok, err := s.getSetting(ctx, settingWelcomePanel)
	if err != nil || !ok {
		return nil, err
	}
	var ref MessageRef
	if err = json.Unmarshal([]byte(v), &ref); err != nil {
		return nil, fmt.Errorf("invalid %s setting: %w", settingWelcomePanel, err)
	}
	return &ref, nil
}

func (s *GormStore) SetWelcomePanel(ctx context.Context, ref MessageRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	return s.setSetting(ctx, settingWelcomePanel, string(data))
}

func (s *GormStore) RecordLike(ctx context.Context, fromUserID string, toUserID string) error {
	_, err := s.db.Create(ctx, &Like{FromUserID: fromUserID, ToUserID: toUserID})
	return err
}

func (s *GormStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.read(ctx)
	err := errors.Join(
		db.Model(&Profile{}).Count(&st.Profiles).Error,
		db.Model(&PublicationRef{}).Count(&st.Published).Error,
		db.Model(&Ban{}).Count(&st.Bans).Error,
		db.Model(&RosterEntry{}).Count(&st.Roster).Error,
		db.Model(&Like{}).Count(&st.Likes).Error,
		db.Model(&Owner{}).Count(&st.Owners).Error,
	)
	return st, err
}

func (s *GormStore) SaveSpeedEvent(ctx context.Context, report *Report) error {
	_, err := s.db.Create(
		ctx, &SpeedEventRecord{
			SessionID:     report.SessionID,
			RequestedBy:   report.RequestedBy,
			StartedAt:     report.StartedAt.UnixMilli(),
			ClosedAt:      report.ClosedAt.UnixMilli(),
			Duration:      report.Duration,
			Conversations: report.Conversations,
			Unpaired:      report.Unpaired,
			Failures:      report.Failures,
		},
	)
	return err
}

// ListSpeedEvents returns the most recent runs first
func (s *GormStore) ListSpeedEvents(ctx context.Context, limit int) ([]SpeedEventRecord, error) {
	switch {
	case limit <= 0:
		limit = defaultSpeedEventListLimit
	case limit > maxSpeedEventListLimit:
		limit = maxSpeedEventListLimit
	}
	var records []SpeedEventRecord
	err := s.read(ctx).Order("started_at desc, id desc").Limit(limit).Find(&records).Error
	return records, err
}

func (s *GormStore) getSetting(ctx context.Context, key string) (string, bool, error) {
	var row Setting
	err := s.read(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *GormStore) setSetting(ctx context.Context, key string, value string) error {
	_, err := s.db.Save(ctx, &Setting{Key: key, Value: value})
	return err
}
