package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"reviewhooks/pkg/relevance"
	"reviewhooks/pkg/stats"
	"reviewhooks/pkg/storage"
	"reviewhooks/pkg/telemetry"
)

// ReposTelemetryEvent is the category of repository listing telemetry.
const ReposTelemetryEvent = "dpu/repos"

// SetupHandler records which repositories an installation set up and seeds
// their default configuration.
type SetupHandler struct {
	Setups  storage.SetupStore
	Users   storage.UserStore
	Configs storage.RepoConfigStore
	Logger  *log.Logger
}

type setupRequest struct {
	InstallationID string          `json:"installationId"`
	Info           json.RawMessage `json:"info"`
}

type setupOwnerInfo struct {
	Owner    string   `json:"owner"`
	Provider string   `json:"provider"`
	Repos    []string `json:"repos"`
}

func (h *SetupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	logger := loggerOrDefault(h.Logger)

	var body setupRequest
	var info []setupOwnerInfo
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !isJSONArray(body.Info) {
		logger.Printf("setup: info is missing or not an array")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := json.Unmarshal(body.Info, &info); err != nil {
		logger.Printf("setup: decode info failed: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ctx := r.Context()

	if err := h.Setups.RemoveInstallation(ctx, body.InstallationID); err != nil {
		logger.Printf("setup: remove previous installation %s failed: %v", body.InstallationID, err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	userID, err := h.Users.GetUserIDByTopic(ctx, body.InstallationID)
	if err != nil {
		logger.Printf("setup: user for topic %s failed: %v", body.InstallationID, err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if userID == "" {
		logger.Printf("setup: no user for topic %s", body.InstallationID)
		writeError(w, http.StatusNotFound, "No userId found for given installationId")
		return
	}

	for _, owner := range info {
		if err := h.Setups.SaveSetup(ctx, body.InstallationID, owner.Provider, owner.Owner, owner.Repos); err != nil {
			logger.Printf("setup: save repos of %s failed: %v", owner.Owner, err)
		}
	}
	for _, owner := range info {
		configs := make([]storage.RepoConfig, 0, len(owner.Repos))
		for _, repo := range owner.Repos {
			configs = append(configs, storage.RepoConfig{
				Provider:   owner.Provider,
				Owner:      owner.Owner,
				RepoName:   repo,
				AutoAssign: false,
				Comment:    true,
				UserID:     userID,
			})
		}
		if err := h.Configs.InsertRepoConfigs(ctx, configs); err != nil {
			logger.Printf("setup: repo configs of %s failed: %v", owner.Owner, err)
		}
	}
	writeText(w, http.StatusOK, "Ok")
}

// ReposHandler lists the repositories an installation topic set up.
type ReposHandler struct {
	Setups  storage.SetupStore
	Users   storage.UserStore
	Tracker telemetry.Tracker
	Logger  *log.Logger
}

func (h *ReposHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	logger := loggerOrDefault(h.Logger)
	ctx := r.Context()
	query := r.URL.Query()
	topic := strings.TrimSpace(query.Get("topicId"))
	provider := strings.TrimSpace(query.Get("provider"))
	props := map[string]interface{}{"topicName": topic, "provider": provider}

	track := func(userID, kind string, status, flag int) {
		if h.Tracker == nil {
			return
		}
		record := telemetry.Record{
			UserID:     userID,
			Event:      ReposTelemetryEvent,
			Type:       kind,
			StatusFlag: flag,
			Properties: make(map[string]interface{}, len(props)+1),
		}
		for key, value := range props {
			record.Properties[key] = value
		}
		record.Properties["response_status"] = status
		h.Tracker.Track(ctx, record)
	}

	if topic == "" || provider == "" || len(query["topicId"]) > 1 || len(query["provider"]) > 1 {
		writeError(w, http.StatusBadRequest, "Invalid get request body")
		track(telemetry.AbsentUser, "invalid-body", http.StatusBadRequest, 0)
		return
	}

	userID, err := h.Users.GetUserIDByTopic(ctx, topic)
	if err != nil {
		logger.Printf("repos: user for topic %s failed: %v", topic, err)
		track(telemetry.AbsentUser, "user-data-for-topic", http.StatusInternalServerError, 0)
		userID = ""
	}
	repos, err := h.Setups.ListReposByTopic(ctx, topic, provider)
	if err != nil {
		logger.Printf("repos: list for topic %s failed: %v", topic, err)
		track(userID, "user-repos-for-topic", http.StatusBadRequest, 0)
		writeError(w, http.StatusInternalServerError, "Unable to get user repos from db")
		track(userID, "empty-repos-list-from-db", http.StatusInternalServerError, 0)
		return
	}
	if repos == nil {
		repos = []storage.RepoRef{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"repoList": repos})
	props["repoList"] = repos
	track(userID, "get-user-repos", http.StatusOK, 1)
}

// RelevantHandler serves browser extension relevance lookups.
type RelevantHandler struct {
	Service        *relevance.Service
	IdentityHeader string
	AllowedOrigin  string
	Logger         *log.Logger
}

func (h *RelevantHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := h.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Headers", "Access-Control-Allow-Origin, Content-Type, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		writeText(w, http.StatusOK, "Ok")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	logger := loggerOrDefault(h.Logger)
	ctx := r.Context()

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	repo, ok := repoFromBody(body)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	header := h.IdentityHeader
	if header == "" {
		header = "X-Auth-Email"
	}
	emails := h.Service.UserEmails(ctx, strings.TrimSpace(r.Header.Get(header)))

	switch r.URL.Query().Get("type") {
	case "review":
		reviews, err := h.Service.Reviews(ctx, repo, emails)
		if err != nil {
			logger.Printf("relevant: review data for %s failed: %v", repo, err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"relevant": reviews})
	case "file":
		prNumber, ok := prNumberFromBody(body)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		files, err := h.Service.Files(ctx, repo, prNumber, emails)
		if err != nil {
			logger.Printf("relevant: file data for %s failed: %v", repo, err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
	case "hunk":
		prNumber, ok := prNumberFromBody(body)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		hunks, err := h.Service.Hunks(ctx, repo, prNumber, emails)
		if err != nil {
			logger.Printf("relevant: hunk data for %s failed: %v", repo, err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"hunkinfo": hunks})
	default:
		writeError(w, http.StatusBadRequest, "Invalid type")
	}
}

// AuthorStatsHandler returns per-author contribution stats for a repository.
type AuthorStatsHandler struct {
	Service *stats.Service
	Logger  *log.Logger
}

func (h *AuthorStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	repo := strings.TrimSpace(r.URL.Query().Get("repo"))
	if repo == "" {
		writeError(w, http.StatusBadRequest, "missing repo")
		return
	}
	out, err := h.Service.RepoStats(r.Context(), repo)
	if err != nil {
		loggerOrDefault(h.Logger).Printf("author stats for %s failed: %v", repo, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func repoFromBody(body map[string]json.RawMessage) (storage.RepoKey, bool) {
	values := make([]string, 0, 3)
	for _, field := range []string{"repo_provider", "repo_owner", "repo_name"} {
		raw, ok := body[field]
		if !ok {
			return storage.RepoKey{}, false
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return storage.RepoKey{}, false
		}
		values = append(values, value)
	}
	return storage.RepoKey{Provider: values[0], Owner: values[1], Name: values[2]}.Normalize(), true
}

// prNumberFromBody accepts pr_number as a JSON number or a numeric string.
func prNumberFromBody(body map[string]json.RawMessage) (int, bool) {
	raw, ok := body["pr_number"]
	if !ok {
		return 0, false
	}
	var number int
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, true
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, false
	}
	number, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, false
	}
	return number, true
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "[")
}

func loggerOrDefault(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.Default()
	}
	return logger
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
