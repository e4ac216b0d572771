// Package leadstate implements C2, the lead state manager.
// UpdateLeadStatus updates the per-campaign cache hash before the
// relational store; the URL-scoped operations write the store first and
// then fan out across every cache entry sharing that URL, regardless of
// campaign, as the store update does across lead rows.
package leadstate

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"outreach-engine/internal/bus"
	"outreach-engine/internal/logger"
	"outreach-engine/internal/models"
	"outreach-engine/internal/repository"
)

type Manager struct {
	leads *repository.LeadRepository
	cache *bus.LeadCache
	log   logger.Logger
}

func NewManager(leads *repository.LeadRepository, cache *bus.LeadCache, log logger.Logger) *Manager {
	return &Manager{leads: leads, cache: cache, log: log}
}

// FetchResult is the outcome of fetchEligibleLeads.
type FetchResult struct {
	AllLeads      []*models.Lead
	EligibleLeads []*models.Lead
	Source        string // "redis" | "postgresql"
}

// UpdateLeadStatus updates the cached entry first (logging and continuing
// if the lead is absent from the cache), then writes the authoritative
// store row. Store errors propagate to the caller.
func (m *Manager) UpdateLeadStatus(ctx context.Context, campaignID, leadID string, status models.InviteStatus, inviteSent bool) error {
	m.touchCacheEntry(ctx, campaignID, leadID, func(l *models.Lead) {
		l.InviteSent = inviteSent
		l.InviteStatus = status
		now := time.Now().UTC()
		l.InviteSentAt = &now
	})

	if err := m.leads.UpdateStatus(ctx, campaignID, leadID, status, inviteSent); err != nil {
		return err
	}
	return nil
}

// UpdateLeadStatusGlobally fans out an invite status change to every lead
// row and cache entry sharing url, regardless of campaign.
func (m *Manager) UpdateLeadStatusGlobally(ctx context.Context, url string, status models.InviteStatus, inviteSent bool) (int64, error) {
	n, err := m.leads.UpdateStatusGlobally(ctx, url, status, inviteSent)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	m.fanOutCache(ctx, url, func(l *models.Lead) {
		l.InviteSent = inviteSent
		l.InviteStatus = status
		l.InviteSentAt = &now
	})
	return n, nil
}

// UpdateLeadConnectionAccepted fans out an accepted-connection
// transition by url.
func (m *Manager) UpdateLeadConnectionAccepted(ctx context.Context, url string, acceptedAt time.Time) (int64, error) {
	n, err := m.leads.UpdateConnectionAccepted(ctx, url, acceptedAt)
	if err != nil {
		return 0, err
	}
	m.fanOutCache(ctx, url, func(l *models.Lead) {
		l.InviteSent = true
		l.InviteStatus = models.InviteStatusAccepted
		l.InviteAcceptedAt = &acceptedAt
	})
	return n, nil
}

// UpdateLeadMessageSent fans out a successful message send by url.
func (m *Manager) UpdateLeadMessageSent(ctx context.Context, url string, sentAt time.Time) (int64, error) {
	n, err := m.leads.UpdateMessageSent(ctx, url, sentAt)
	if err != nil {
		return 0, err
	}
	m.fanOutCache(ctx, url, func(l *models.Lead) {
		l.MessageSent = true
		l.MessageSentAt = &sentAt
		l.MessageError = ""
	})
	return n, nil
}

// UpdateLeadMessageError fans out a failed message send by url.
func (m *Manager) UpdateLeadMessageError(ctx context.Context, url, errMsg string) (int64, error) {
	n, err := m.leads.UpdateMessageError(ctx, url, errMsg)
	if err != nil {
		return 0, err
	}
	m.fanOutCache(ctx, url, func(l *models.Lead) {
		l.MessageSent = false
		l.MessageError = errMsg
	})
	return n, nil
}

// FetchEligibleLeads reads the campaign cache first; on a miss it loads
// from the store, populates the cache best-effort, and reports which
// source served the read.
func (m *Manager) FetchEligibleLeads(ctx context.Context, campaignID string) (FetchResult, error) {
	cached, err := m.cache.GetAll(ctx, campaignID)
	if err != nil {
		m.log.WithError(err).Warn("lead cache read failed, falling back to store", nil)
		cached = nil
	}

	var all []*models.Lead
	source := "redis"

	if len(cached) > 0 {
		for _, raw := range cached {
			var l models.Lead
			if err := json.Unmarshal([]byte(raw), &l); err != nil {
				m.log.WithError(err).Warn("discarding malformed cache entry", nil)
				continue
			}
			all = append(all, &l)
		}
		// The cache hash has no order; restore the store's insertion order.
		sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	} else {
		source = "postgresql"
		all, err = m.leads.ListByCampaign(ctx, campaignID)
		if err != nil {
			return FetchResult{}, err
		}
		m.populateCache(ctx, campaignID, all)
	}

	eligible := make([]*models.Lead, 0, len(all))
	for _, l := range all {
		if l.Eligible() {
			eligible = append(eligible, l)
		}
	}

	return FetchResult{AllLeads: all, EligibleLeads: eligible, Source: source}, nil
}

// Analytics is the pure summary getLeadAnalytics computes.
type Analytics struct {
	Total            int
	InviteStats      map[models.InviteStatus]int
	LeadsWithInvites int
}

// GetLeadAnalytics is a pure function over an in-memory lead slice.
func GetLeadAnalytics(leads []*models.Lead) Analytics {
	stats := make(map[models.InviteStatus]int)
	withInvites := 0
	for _, l := range leads {
		stats[l.InviteStatus]++
		if l.InviteSent {
			withInvites++
		}
	}
	return Analytics{Total: len(leads), InviteStats: stats, LeadsWithInvites: withInvites}
}

func (m *Manager) populateCache(ctx context.Context, campaignID string, leads []*models.Lead) {
	entries := make(map[string]string, len(leads))
	for _, l := range leads {
		raw, err := json.Marshal(l)
		if err != nil {
			continue
		}
		entries[l.ID] = string(raw)
	}
	if err := m.cache.SetMany(ctx, campaignID, entries); err != nil {
		m.log.WithError(err).Warn("lead cache populate failed", nil)
	}
}

func (m *Manager) touchCacheEntry(ctx context.Context, campaignID, leadID string, mutate func(*models.Lead)) {
	entries, err := m.cache.GetAll(ctx, campaignID)
	if err != nil {
		m.log.WithError(err).Warn("lead cache read failed during update", nil)
		return
	}
	raw, ok := entries[leadID]
	if !ok {
		m.log.Info("lead absent from cache, updating store only", map[string]interface{}{"leadId": leadID})
		return
	}
	var l models.Lead
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		m.log.WithError(err).Warn("discarding malformed cache entry on update", nil)
		return
	}
	mutate(&l)
	serialized, err := json.Marshal(&l)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, campaignID, leadID, string(serialized)); err != nil {
		m.log.WithError(err).Warn("lead cache write failed", nil)
	}
}

// fanOutCache scans every campaign:*:leads hash for entries whose url
// matches and rewrites them in place. The scan cost is O(leads cached
// across all campaigns); an auxiliary url index would avoid it but the
// campaign set size in this domain keeps the scan cheap in practice.
func (m *Manager) fanOutCache(ctx context.Context, url string, mutate func(*models.Lead)) {
	keys, err := m.cache.ScanCampaignKeys(ctx)
	if err != nil {
		m.log.WithError(err).Warn("cache scan failed during fan-out", nil)
		return
	}
	for _, campaignID := range keys {
		entries, err := m.cache.GetAll(ctx, campaignID)
		if err != nil {
			continue
		}
		for leadID, raw := range entries {
			var l models.Lead
			if err := json.Unmarshal([]byte(raw), &l); err != nil {
				continue
			}
			if !strings.EqualFold(l.URL, url) {
				continue
			}
			mutate(&l)
			serialized, err := json.Marshal(&l)
			if err != nil {
				continue
			}
			if err := m.cache.Set(ctx, campaignID, leadID, string(serialized)); err != nil {
				m.log.WithError(err).Warn("lead cache fan-out write failed", nil)
			}
		}
	}
}
