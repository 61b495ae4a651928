package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hubsync/internal/model"
)

// Import progress steps, in the order a restore emits them.
const (
	StepStart       = "start"
	StepElevated    = "elevated"
	StepSection     = "section"
	StepResource    = "resource"
	StepView        = "view"
	StepSiteSetting = "siteSetting"
	StepUser        = "user"
	StepReverted    = "reverted"
	StepDone        = "done"
	StepError       = "error"
)

// Progress statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ProgressEvent reports one step of an import.
type ProgressEvent struct {
	Step   string         `json:"step"`
	ID     string         `json:"id,omitempty"`
	Key    string         `json:"key,omitempty"`
	Status string         `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
	Counts map[string]int `json:"counts,omitempty"`
}

// ImportOptions configures ImportRawState.
type ImportOptions struct {
	// OnProgress is called for every step. Panics are recovered and logged.
	OnProgress func(ProgressEvent)
}

// FamilySummary counts the outcome of one record family.
type FamilySummary struct {
	OK     int         `json:"ok"`
	Errors []*RowError `json:"errors,omitempty"`
}

// ImportSummary is the per-family result of a restore.
type ImportSummary struct {
	Sections     FamilySummary `json:"sections"`
	Resources    FamilySummary `json:"resources"`
	Views        FamilySummary `json:"views"`
	SiteSettings FamilySummary `json:"siteSettings"`
	Users        FamilySummary `json:"users"`
	Elevated     bool          `json:"elevated"`
	Reverted     bool          `json:"reverted"`
}

// Failed returns the number of rows that could not be written.
func (s *ImportSummary) Failed() int {
	return len(s.Sections.Errors) + len(s.Resources.Errors) + len(s.Views.Errors) +
		len(s.SiteSettings.Errors) + len(s.Users.Errors)
}

// Counts returns the written row count per family.
func (s *ImportSummary) Counts() map[string]int {
	return map[string]int{
		"sections":     s.Sections.OK,
		"resources":    s.Resources.OK,
		"views":        s.Views.OK,
		"siteSettings": s.SiteSettings.OK,
		"users":        s.Users.OK,
		"failed":       s.Failed(),
	}
}

// ExportRawState reads every record family into a Snapshot. The privileged
// single-call export is tried first; when it is unavailable each family is
// read on its own, and a family that cannot be read is exported empty.
// An error is returned only when no family could be read at all.
func (s *HubService) ExportRawState(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Users:        ProfileSet{},
		Sections:     SectionSet{},
		Resources:    ResourceSet{},
		Activities:   []*model.Activity{},
		Views:        ViewSet{},
		SiteSettings: SettingSet{},
		ExportDate:   s.clock.Now().UTC(),
	}

	bundle, err := Retry(ctx, s.retry, "export all data", s.store.ExportAll)
	if err == nil && bundle != nil {
		snap.Users = append(snap.Users, bundle.Users...)
		snap.Sections = append(snap.Sections, bundle.Sections...)
		snap.Resources = append(snap.Resources, bundle.Resources...)
		snap.Activities = append(snap.Activities, bundle.Activities...)
		snap.Views = append(snap.Views, bundle.Views...)
		if settings, err := Retry(ctx, s.retry, "list settings", s.store.ListSettings); err != nil {
			s.logger.Error("export: reading family failed", "family", "siteSettings", "error", err)
		} else {
			snap.SiteSettings = append(snap.SiteSettings, settings...)
		}
	} else {
		s.logger.Info("privileged export unavailable, reading families individually", "error", err)
		if err := s.exportFamilies(ctx, snap); err != nil {
			return nil, err
		}
	}

	snap.TotalRecords = snap.Counts()
	s.logger.Info("export complete", "sections", len(snap.Sections), "resources", len(snap.Resources), "users", len(snap.Users))
	s.logActivity(ctx, "data_exported", "", "", map[string]any{"totalRecords": snap.TotalRecords})
	return snap, nil
}

// exportFamilies reads each record family on its own. A family that fails
// stays empty; only when every family fails is an error returned.
func (s *HubService) exportFamilies(ctx context.Context, snap *Snapshot) error {
	var errs []error
	read := func(family string, err error) bool {
		if err != nil {
			s.logger.Error("export: reading family failed", "family", family, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", family, err))
			return false
		}
		return true
	}

	users, err := collectPages(ctx, s, "list profiles", s.store.ListProfiles)
	if read("users", err) {
		snap.Users = append(snap.Users, users...)
	}
	sections, err := Retry(ctx, s.retry, "list sections", s.store.ListSections)
	if read("sections", err) {
		snap.Sections = append(snap.Sections, sections...)
	}
	resources, err := collectPages(ctx, s, "list resources", func(ctx context.Context, p Page) ([]*model.Resource, error) {
		return s.store.ListResources(ctx, ResourceFilter{Page: p})
	})
	if read("resources", err) {
		snap.Resources = append(snap.Resources, resources...)
	}
	activities, err := collectPages(ctx, s, "list activities", s.store.ListActivities)
	if read("activities", err) {
		snap.Activities = append(snap.Activities, activities...)
	}
	views, err := collectPages(ctx, s, "list views", s.store.ListViews)
	if read("views", err) {
		snap.Views = append(snap.Views, views...)
	}
	settings, err := Retry(ctx, s.retry, "list settings", s.store.ListSettings)
	if read("siteSettings", err) {
		snap.SiteSettings = append(snap.SiteSettings, settings...)
	}

	const families = 6
	if len(errs) == families {
		return fmt.Errorf("export failed, no record family readable: %w", errors.Join(errs...))
	}
	return nil
}

// ImportRawState writes a snapshot into the store.
//
// The caller must be an admin or hold the manage-users capability; otherwise
// nothing is written and an ErrPermission error is returned. For the
// duration of the restore the caller is granted edit rights on all sections,
// and the original permissions are restored afterwards on a best-effort
// basis. Sections, resources, views and settings are written before users,
// so replacing the caller's own profile cannot revoke the elevation early.
// Activities are never replayed. Each row is written independently; failures
// are collected in the summary.
func (s *HubService) ImportRawState(ctx context.Context, snap *Snapshot, opts ImportOptions) (*ImportSummary, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: snapshot is required", ErrValidation)
	}

	actor, err := s.currentProfile(ctx)
	if err == nil && !actor.CanManageUsers() {
		err = fmt.Errorf("%w: restore requires admin role or manage-users capability", ErrPermission)
	}
	if err != nil {
		s.emit(opts, ProgressEvent{Step: StepError, Status: StatusError, Error: err.Error()})
		return nil, fmt.Errorf("restore precondition: %w", err)
	}

	summary := &ImportSummary{}
	s.emit(opts, ProgressEvent{Step: StepStart, Status: StatusOK, Counts: snap.Counts()})
	s.logger.Info("restore started", "actor", actor.ID, "sections", len(snap.Sections), "resources", len(snap.Resources))

	original := actor.Permissions.Clone()
	elevated := actor.Permissions.Clone()
	elevated.CanEditAllSections = true
	if err := s.retry.Do(ctx, "elevate permissions", func(ctx context.Context) error {
		return s.store.UpdatePermissions(ctx, actor.ID, elevated)
	}); err != nil {
		s.logger.Warn("restore: elevation failed, continuing with current rights", "error", err)
		s.emit(opts, ProgressEvent{Step: StepElevated, ID: actor.ID, Status: StatusError, Error: err.Error()})
	} else {
		summary.Elevated = true
		s.emit(opts, ProgressEvent{Step: StepElevated, ID: actor.ID, Status: StatusOK})
	}

	for i, section := range snap.Sections {
		s.importRow(ctx, opts, &summary.Sections, StepSection, "sections", i, section.ID, func(ctx context.Context) error {
			if section.ID == "" {
				return fmt.Errorf("%w: section id is missing", ErrValidation)
			}
			row := *section
			row.Version = 0
			return s.store.UpsertSection(ctx, &row)
		})
	}

	for i, resource := range snap.Resources {
		row := *resource
		if row.ID == "" {
			row.ID = s.idgen.New()
		}
		s.importRow(ctx, opts, &summary.Resources, StepResource, "resources", i, row.ID, func(ctx context.Context) error {
			if row.SectionID == "" {
				return fmt.Errorf("%w: resource section is missing", ErrValidation)
			}
			return s.store.UpsertResource(ctx, &row)
		})
	}

	for i, view := range snap.Views {
		key := view.UserID + ":" + view.ResourceID
		s.importRow(ctx, opts, &summary.Views, StepView, "views", i, key, func(ctx context.Context) error {
			if view.UserID == "" || view.ResourceID == "" {
				return fmt.Errorf("%w: view needs user_id and resource_id", ErrValidation)
			}
			return s.store.UpsertView(ctx, view)
		})
	}

	for i, setting := range snap.SiteSettings {
		s.importRow(ctx, opts, &summary.SiteSettings, StepSiteSetting, "siteSettings", i, setting.Key, func(ctx context.Context) error {
			if strings.TrimSpace(setting.Key) == "" {
				return fmt.Errorf("%w: setting key is missing", ErrValidation)
			}
			value := setting.Value
			if value == nil {
				value = json.RawMessage("null")
			}
			return s.store.UpsertSetting(ctx, setting.Key, value)
		})
	}

	for i, user := range snap.Users {
		s.importRow(ctx, opts, &summary.Users, StepUser, "users", i, user.ID, func(ctx context.Context) error {
			if user.ID == "" {
				return fmt.Errorf("%w: user id is missing", ErrValidation)
			}
			return s.store.UpsertProfile(ctx, user)
		})
	}

	if summary.Elevated {
		if err := s.retry.Do(ctx, "revert permissions", func(ctx context.Context) error {
			return s.store.UpdatePermissions(ctx, actor.ID, original)
		}); err != nil {
			s.logger.Error("restore: reverting elevated permissions failed", "actor", actor.ID, "error", err)
			s.emit(opts, ProgressEvent{Step: StepReverted, ID: actor.ID, Status: StatusError, Error: err.Error()})
		} else {
			summary.Reverted = true
			s.emit(opts, ProgressEvent{Step: StepReverted, ID: actor.ID, Status: StatusOK})
		}
	}

	s.emit(opts, ProgressEvent{Step: StepDone, Status: StatusOK, Counts: summary.Counts()})
	s.logger.Info("restore complete", "failed", summary.Failed())
	s.logActivity(ctx, "data_imported", "", "", map[string]any{"counts": summary.Counts()})
	return summary, nil
}

// importRow writes one row with retries and records the outcome.
func (s *HubService) importRow(ctx context.Context, opts ImportOptions, fam *FamilySummary, step, family string, index int, id string, write func(context.Context) error) {
	err := s.retry.Do(ctx, "import "+step, write)
	if err != nil {
		rowErr := &RowError{Family: family, Row: index + 1, ID: id, Err: err}
		fam.Errors = append(fam.Errors, rowErr)
		s.logger.Warn("restore: row failed", "family", family, "row", index+1, "id", id, "error", err)
		s.emit(opts, progressFor(step, id, StatusError, err))
		return
	}
	fam.OK++
	s.emit(opts, progressFor(step, id, StatusOK, nil))
}

func progressFor(step, id, status string, err error) ProgressEvent {
	ev := ProgressEvent{Step: step, Status: status}
	if step == StepSiteSetting || step == StepView {
		ev.Key = id
	} else {
		ev.ID = id
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// emit delivers a progress event, shielding the import from the callback.
func (s *HubService) emit(opts ImportOptions, ev ProgressEvent) {
	if opts.OnProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("progress callback panicked", "step", ev.Step, "panic", r)
		}
	}()
	opts.OnProgress(ev)
}
