package main

import (
	"net/http"

	"github.com/fpang/instagram-publisher/internal/api"
	"github.com/fpang/instagram-publisher/internal/publisher"
)

func handlePostFromMedia(svc *api.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req api.PostFromMediaRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		result, err := svc.PostFromMedia(r.Context(), req)
		if err != nil {
			respondAppError(w, err)
			return
		}
		respondJSON(w, postStatusCode(result.Status), result)
	}
}

func handlePostNow(svc *api.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req api.PostNowRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		result, err := svc.PostNow(r.Context(), req)
		if err != nil {
			respondAppError(w, err)
			return
		}
		respondJSON(w, postStatusCode(result.Status), result)
	}
}

func handlePostStatus(svc *api.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		result, err := svc.PollStatus(r.Context(), r.URL.Query().Get("key"))
		if err != nil {
			respondAppError(w, err)
			return
		}
		if result.Status == string(publisher.StatusNotFound) {
			respondJSON(w, http.StatusNotFound, result)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleSchedulePost(svc *api.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req api.SchedulePostRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		post, err := svc.SchedulePost(r.Context(), req)
		if err != nil {
			respondAppError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, post)
	}
}

func handleScheduledPosts(svc *api.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		posts, err := svc.ListScheduledPosts(r.Context(), r.URL.Query().Get("subjectId"))
		if err != nil {
			respondAppError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
	}
}

func handleConnect(svc *api.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req api.ConnectRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		result, err := svc.ConnectAccount(r.Context(), req)
		if err != nil {
			respondAppError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// postStatusCode maps a post submission status to an HTTP code: 202 while
// containers are still processing, 200 once the publish completed.
func postStatusCode(status string) int {
	if status == string(publisher.StatusProcessing) || status == string(publisher.StatusPublishing) {
		return http.StatusAccepted
	}
	return http.StatusOK
}
