package controller

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"go.uber.org/zap"
)

const maxPageSize = 500

func profileID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

func queryInt(r *http.Request, key string, def, maxValue int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return min(v, maxValue)
}

// HandleProfile returns the cached profile.
func (c *Controller) HandleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	p, err := c.App.Store.GetCachedProfile(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		c.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleProfilesList pages through cached profiles by id: ?after=<id>&limit=<n>.
func (c *Controller) HandleProfilesList(w http.ResponseWriter, r *http.Request) {
	after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	limit := queryInt(r, "limit", 100, maxPageSize)
	profiles, err := c.App.Store.ListCachedProfiles(r.Context(), after, limit)
	if err != nil {
		c.internalError(w, err)
		return
	}
	out := map[string]any{"profiles": profiles}
	if len(profiles) == limit {
		out["next"] = profiles[len(profiles)-1].ProfileID
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleNotifications returns every notification claimed for the profile with its deliveries.
func (c *Controller) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	notifications, err := c.App.Store.ListNotifications(r.Context(), id)
	if err != nil {
		c.internalError(w, err)
		return
	}
	if notifications == nil {
		notifications = []registry.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

// HandleAnomalies lists recorded anomalies, newest first: ?profileId=<id>&limit=<n>.
func (c *Controller) HandleAnomalies(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseUint(r.URL.Query().Get("profileId"), 10, 64)
	anomalies, err := c.App.Store.ListAnomalies(r.Context(), id, queryInt(r, "limit", 100, maxPageSize))
	if err != nil {
		c.internalError(w, err)
		return
	}
	if anomalies == nil {
		anomalies = []registry.Anomaly{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": anomalies})
}

type verifiedAddressesRequest struct {
	PurposeIdentifier string   `json:"purposeIdentifier"`
	ExternalAddresses []string `json:"externalAddresses"`
}

// HandleVerifiedExternalAddresses returns the subset of externalAddresses connected for
// purposeIdentifier to a verified profile.
func (c *Controller) HandleVerifiedExternalAddresses(w http.ResponseWriter, r *http.Request) {
	var in verifiedAddressesRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if strings.TrimSpace(in.PurposeIdentifier) == "" {
		writeError(w, http.StatusBadRequest, "purposeIdentifier is required")
		return
	}
	verified := []string{}
	if len(in.ExternalAddresses) > 0 {
		found, err := c.App.Store.VerifiedExternalAddresses(r.Context(), in.PurposeIdentifier, in.ExternalAddresses)
		if err != nil {
			c.internalError(w, err)
			return
		}
		verified = append(verified, found...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"verifiedExternalAddresses": verified})
}

// HandlePutContact registers a notification destination for a profile owner address.
func (c *Controller) HandlePutContact(w http.ResponseWriter, r *http.Request) {
	var in registry.Contact
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if in.Address == "" || in.Destination == "" {
		writeError(w, http.StatusBadRequest, "address and destination are required")
		return
	}
	if in.Channel != registry.ChannelSMS && in.Channel != registry.ChannelEmail {
		writeError(w, http.StatusBadRequest, "unknown channel")
		return
	}
	if err := c.App.Store.PutContact(r.Context(), in); err != nil {
		c.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePutConnection links an external address to a profile for one purpose.
func (c *Controller) HandlePutConnection(w http.ResponseWriter, r *http.Request) {
	var in registry.Connection
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if in.PurposeIdentifier == "" || in.ExternalAddress == "" || in.ProfileID == 0 {
		writeError(w, http.StatusBadRequest, "purposeIdentifier, externalAddress and profileId are required")
		return
	}
	if err := c.App.Store.PutConnection(r.Context(), in); err != nil {
		c.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTriggerSync queues a sync of the profile for the worker.
func (c *Controller) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	if c.App.SyncRequests == nil {
		writeError(w, http.StatusServiceUnavailable, "sync requests not available (Redis disabled)")
		return
	}
	entryID, err := c.App.SyncRequests.EnqueueSync(r.Context(), id, "api")
	if err != nil {
		c.internalError(w, err)
		return
	}
	c.App.Logger.Info("Sync requested", zap.Uint64("profile_id", id), zap.String("entry_id", entryID))
	writeJSON(w, http.StatusAccepted, map[string]any{"profileId": id, "requestId": entryID})
}

func (c *Controller) internalError(w http.ResponseWriter, err error) {
	c.App.Logger.Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
