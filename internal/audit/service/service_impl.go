package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tracklane/tracklane/internal/audit/domain"
	auditcontext "github.com/tracklane/tracklane/internal/auditcontext"
	"github.com/tracklane/tracklane/internal/providers/pdf"
	"github.com/tracklane/tracklane/internal/tenant"
	"github.com/tracklane/tracklane/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// exportPageSize bounds how much history one repository round trip loads
// while streaming an export.
const exportPageSize = 500

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	PDF   pdf.Provider
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	pdf   pdf.Provider
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		pdf:   p.PDF,
	}
}

func (s *Service) RecordCreated(ctx context.Context, tx *gorm.DB, actor tenant.Context, item domain.ItemRef, metadata map[string]any) error {
	now := time.Now().UTC()
	entry := s.newEntry(ctx, actor, item, domain.ActionCreated, now)
	entry.Metadata = s.metadata(ctx, metadata)
	return s.repo.Insert(ctx, tx, entry)
}

func (s *Service) RecordUpdated(ctx context.Context, tx *gorm.DB, actor tenant.Context, item domain.ItemRef, changes []domain.FieldChange) error {
	if len(changes) == 0 {
		return nil
	}

	// One entry per changed field, all sharing a single timestamp so the
	// mutation reads as one event in the log.
	now := time.Now().UTC()
	entries := make([]*domain.Entry, 0, len(changes))
	for _, change := range changes {
		entry := s.newEntry(ctx, actor, item, domain.ActionUpdated, now)
		entry.Field = change.Field
		entry.OldValue = change.Old
		entry.NewValue = change.New
		entries = append(entries, entry)
	}
	return s.repo.Insert(ctx, tx, entries...)
}

func (s *Service) RecordMoved(ctx context.Context, tx *gorm.DB, actor tenant.Context, item domain.ItemRef, change domain.MovedChange) error {
	now := time.Now().UTC()

	structural := s.newEntry(ctx, actor, item, domain.ActionMoved, now)
	structural.Metadata = s.metadata(ctx, map[string]any{
		"from_column_id": change.FromColumnID.String(),
		"to_column_id":   change.ToColumnID.String(),
		"from_column":    change.FromColumn,
		"to_column":      change.ToColumn,
	})

	column := s.newEntry(ctx, actor, item, domain.ActionMoved, now)
	column.Field = domain.FieldColumn
	column.OldValue = textValue(change.FromColumnID.String())
	column.NewValue = textValue(change.ToColumnID.String())

	orderKey := s.newEntry(ctx, actor, item, domain.ActionMoved, now)
	orderKey.Field = domain.FieldOrderKey
	orderKey.OldValue = textValue(formatOrderKey(change.OldOrderKey))
	orderKey.NewValue = textValue(formatOrderKey(change.NewOrderKey))

	return s.repo.Insert(ctx, tx, structural, column, orderKey)
}

func (s *Service) RecordArchived(ctx context.Context, tx *gorm.DB, actor tenant.Context, item domain.ItemRef, restored bool) error {
	now := time.Now().UTC()
	entry := s.newEntry(ctx, actor, item, domain.ActionArchived, now)
	if restored {
		entry.Metadata = s.metadata(ctx, map[string]any{"restored": true})
	} else {
		entry.Metadata = s.metadata(ctx, nil)
	}
	return s.repo.Insert(ctx, tx, entry)
}

func (s *Service) RecordCommented(ctx context.Context, tx *gorm.DB, actor tenant.Context, item domain.ItemRef, commentID snowflake.ID) error {
	now := time.Now().UTC()
	entry := s.newEntry(ctx, actor, item, domain.ActionCommented, now)
	entry.Metadata = s.metadata(ctx, map[string]any{"comment_id": commentID.String()})
	return s.repo.Insert(ctx, tx, entry)
}

func (s *Service) List(ctx context.Context, actor tenant.Context, req domain.ListActivityRequest) (*domain.ListActivityResponse, error) {
	if req.ItemID == 0 {
		return nil, domain.ErrItemNotFound
	}

	summary, err := s.repo.ItemSummary(ctx, s.db, req.ItemID)
	if err != nil {
		return nil, err
	}
	if summary == nil || summary.OrgID != actor.OrgID {
		return nil, domain.ErrItemNotFound
	}

	ascending, err := parseSort(req.Sort)
	if err != nil {
		return nil, err
	}
	if err := validateAction(req.Action); err != nil {
		return nil, err
	}

	cursor, err := decodeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}

	pageSize := normalizePageSize(req.PageSize)
	entries, err := s.repo.List(ctx, s.db, domain.ListFilter{
		OrgID:     actor.OrgID,
		ItemID:    req.ItemID,
		Action:    req.Action,
		Ascending: ascending,
		Cursor:    cursor,
		Limit:     pageSize,
	})
	if err != nil {
		return nil, err
	}

	return s.buildPage(ctx, entries, pageSize)
}

func (s *Service) ListByProject(ctx context.Context, actor tenant.Context, req domain.ListProjectActivityRequest) (*domain.ListActivityResponse, error) {
	if !actor.Role.Elevated() {
		return nil, domain.ErrForbidden
	}
	if req.ProjectID == 0 {
		return nil, domain.ErrItemNotFound
	}
	if err := validateAction(req.Action); err != nil {
		return nil, err
	}

	cursor, err := decodeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}

	pageSize := normalizePageSize(req.PageSize)
	entries, err := s.repo.List(ctx, s.db, domain.ListFilter{
		OrgID:     actor.OrgID,
		ProjectID: req.ProjectID,
		Action:    req.Action,
		Cursor:    cursor,
		Limit:     pageSize,
	})
	if err != nil {
		return nil, err
	}

	return s.buildPage(ctx, entries, pageSize)
}

func (s *Service) Export(ctx context.Context, actor tenant.Context, req domain.ExportActivityRequest, w io.Writer) error {
	if req.ItemID == 0 {
		return domain.ErrItemNotFound
	}

	summary, err := s.repo.ItemSummary(ctx, s.db, req.ItemID)
	if err != nil {
		return err
	}
	if summary == nil || summary.OrgID != actor.OrgID {
		return domain.ErrItemNotFound
	}

	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = domain.FormatNDJSON
	}

	switch format {
	case domain.FormatNDJSON:
		return s.exportNDJSON(ctx, actor.OrgID, req.ItemID, w)
	case domain.FormatCSV:
		return s.exportCSV(ctx, actor.OrgID, req.ItemID, w)
	case domain.FormatPDF:
		return s.exportPDF(ctx, actor.OrgID, req.ItemID, summary, w)
	default:
		return domain.ErrInvalidFormat
	}
}

type exportRow struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Field     string    `json:"field,omitempty"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
}

func (s *Service) exportNDJSON(ctx context.Context, orgID, itemID snowflake.ID, w io.Writer) error {
	enc := json.NewEncoder(w)
	return s.forEachRow(ctx, orgID, itemID, func(row exportRow) error {
		return enc.Encode(row)
	})
}

func (s *Service) exportCSV(ctx context.Context, orgID, itemID snowflake.ID, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "user", "action", "field", "old_value", "new_value"}); err != nil {
		return err
	}

	err := s.forEachRow(ctx, orgID, itemID, func(row exportRow) error {
		return cw.Write([]string{
			row.Timestamp.Format(time.RFC3339Nano),
			row.User,
			row.Action,
			row.Field,
			row.OldValue,
			row.NewValue,
		})
	})
	if err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

func (s *Service) exportPDF(ctx context.Context, orgID, itemID snowflake.ID, summary *domain.ItemSummary, w io.Writer) error {
	var rows []pdf.ActivityRow
	err := s.forEachRow(ctx, orgID, itemID, func(row exportRow) error {
		rows = append(rows, pdf.ActivityRow{
			Timestamp: row.Timestamp.Format("2006-01-02 15:04:05"),
			Actor:     row.User,
			Action:    row.Action,
			Field:     row.Field,
			OldValue:  row.OldValue,
			NewValue:  row.NewValue,
		})
		return nil
	})
	if err != nil {
		return err
	}

	report := pdf.ActivityReport{
		Title:        summary.DisplayID() + " activity",
		DisplayID:    summary.DisplayID(),
		ItemTitle:    summary.Title,
		Organization: summary.OrgName,
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		Rows:         rows,
	}

	reader, err := s.pdf.GenerateActivityReport(ctx, report)
	if err != nil {
		return err
	}
	if reader == nil {
		return domain.ErrInvalidFormat
	}

	_, err = io.Copy(w, reader)
	return err
}

// forEachRow walks the full history oldest-first in fixed pages so exports
// never hold the whole trail in memory.
func (s *Service) forEachRow(ctx context.Context, orgID, itemID snowflake.ID, fn func(exportRow) error) error {
	var cursor *domain.Cursor
	for {
		entries, err := s.repo.List(ctx, s.db, domain.ListFilter{
			OrgID:     orgID,
			ItemID:    itemID,
			Ascending: true,
			Cursor:    cursor,
			Limit:     exportPageSize,
		})
		if err != nil {
			return err
		}

		hasMore := len(entries) > exportPageSize
		if hasMore {
			entries = entries[:exportPageSize]
		}
		if len(entries) == 0 {
			return nil
		}

		names, err := s.actorNames(ctx, entries)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if entry == nil {
				continue
			}
			if err := fn(exportRow{
				Timestamp: entry.CreatedAt,
				User:      actorLabel(entry, names),
				Action:    string(entry.Action),
				Field:     entry.Field,
				OldValue:  stringValue(entry.OldValue),
				NewValue:  stringValue(entry.NewValue),
			}); err != nil {
				return err
			}
		}

		if !hasMore {
			return nil
		}
		last := entries[len(entries)-1]
		cursor = &domain.Cursor{ID: last.ID, CreatedAt: last.CreatedAt}
	}
}

func (s *Service) buildPage(ctx context.Context, entries []*domain.Entry, pageSize int) (*domain.ListActivityResponse, error) {
	pageInfo := pagination.BuildCursorPageInfo(entries, int32(pageSize), func(entry *domain.Entry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        entry.ID.String(),
			CreatedAt: entry.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(entries) > pageSize {
		entries = entries[:pageSize]
	}

	names, err := s.actorNames(ctx, entries)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ActivityEntry, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		activity := domain.ActivityEntry{
			ID:     entry.ID.String(),
			TaskID: entry.ItemID.String(),
			Actor: domain.ActivityActor{
				Type:        entry.ActorType,
				DisplayName: names[entry.ActorID],
			},
			Action:    entry.Action,
			Field:     entry.Field,
			OldValue:  entry.OldValue,
			NewValue:  entry.NewValue,
			Metadata:  entry.Metadata,
			CreatedAt: entry.CreatedAt,
		}
		if entry.ActorID != 0 {
			activity.Actor.ID = entry.ActorID.String()
		}
		out = append(out, activity)
	}

	resp := &domain.ListActivityResponse{Entries: out}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) actorNames(ctx context.Context, entries []*domain.Entry) (map[snowflake.ID]string, error) {
	seen := make(map[snowflake.ID]struct{}, len(entries))
	ids := make([]snowflake.ID, 0, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.ActorID == 0 {
			continue
		}
		if _, ok := seen[entry.ActorID]; ok {
			continue
		}
		seen[entry.ActorID] = struct{}{}
		ids = append(ids, entry.ActorID)
	}
	return s.repo.ActorNames(ctx, s.db, ids)
}

func (s *Service) newEntry(ctx context.Context, actor tenant.Context, item domain.ItemRef, action domain.Action, now time.Time) *domain.Entry {
	actorType := domain.ActorTypeUser
	if actor.UserID == 0 {
		actorType = domain.ActorTypeSystem
	}
	return &domain.Entry{
		ID:        s.genID.Generate(),
		OrgID:     actor.OrgID,
		ProjectID: item.ProjectID,
		ItemID:    item.ID,
		ActorType: actorType,
		ActorID:   actor.UserID,
		Action:    action,
		CreatedAt: now,
	}
}

func (s *Service) metadata(ctx context.Context, metadata map[string]any) datatypes.JSONMap {
	payload := map[string]any{}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}

	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	if len(payload) == 0 {
		return nil
	}
	return datatypes.JSONMap(payload)
}

func parseSort(sort string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "", domain.SortDesc:
		return false, nil
	case domain.SortAsc:
		return true, nil
	default:
		return false, domain.ErrInvalidSort
	}
}

func validateAction(action string) error {
	if strings.TrimSpace(action) == "" {
		return nil
	}
	if !domain.Action(action).Valid() {
		return domain.ErrInvalidAction
	}
	return nil
}

func normalizePageSize(pageSize int) int {
	if pageSize <= 0 {
		return 50
	}
	if pageSize > 250 {
		return 250
	}
	return pageSize
}

func decodeCursor(pageToken string) (*domain.Cursor, error) {
	if strings.TrimSpace(pageToken) == "" {
		return nil, nil
	}

	decoded, err := pagination.DecodeCursor(pageToken)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidPageToken
	}
	return &domain.Cursor{ID: id, CreatedAt: createdAt}, nil
}

func actorLabel(entry *domain.Entry, names map[snowflake.ID]string) string {
	if entry.ActorID != 0 {
		if name := names[entry.ActorID]; name != "" {
			return name
		}
		return entry.ActorID.String()
	}
	return entry.ActorType
}

func textValue(value string) *string {
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func formatOrderKey(key float64) string {
	return strconv.FormatFloat(key, 'f', -1, 64)
}
