// Copyright 2018 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/C-eorl/P9---LITRevu/pkg/model"
	"github.com/C-eorl/P9---LITRevu/pkg/service"
	"github.com/C-eorl/P9---LITRevu/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// 模板初始化, 挂载格式化函数
var templates = template.Must(template.New("").
	Funcs(template.FuncMap{
		"stars":      renderStars,
		"formatDate": formatDate,
		"ratings":    ratingChoices,
		"dict":       dict,
	}).ParseGlob("templates/*.html"))

const maxUploadSize = 5 << 20

var allowedImageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

type litrevuServer struct {
	auth  *service.AuthService
	feed  *service.FeedService
	posts *service.PostService
	graph *service.GraphService

	limiter      *Limiter
	log          *logrus.Logger
	staticDir    string
	cookieSecure bool
}

func (s *litrevuServer) routes() http.Handler {
	r := mux.NewRouter()
	html := func(h http.HandlerFunc) http.Handler { return s.requireAuth(h) }
	api := func(h http.HandlerFunc) http.Handler { return s.requireAuthJSON(h) }

	r.HandleFunc("/", s.homeHandler).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/login/", s.loginHandler).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/signup/", s.signupHandler).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/logout/", s.logoutHandler).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/_healthz", func(w http.ResponseWriter, _ *http.Request) { fmt.Fprint(w, "ok") })

	r.Handle("/reviews/", html(s.feedHandler)).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/reviews/posts/", html(s.postsHandler)).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/reviews/ticket/create/", html(s.ticketCreateHandler)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/reviews/ticket/{id:[0-9]+}/modify/", html(s.ticketModifyHandler)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/reviews/ticket/{id:[0-9]+}/delete/", html(s.ticketDeleteHandler)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/reviews/review/create/", html(s.reviewCreateHandler)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/reviews/review/create/{ticket_id:[0-9]+}/", html(s.reviewForTicketHandler)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/reviews/review/{id:[0-9]+}/modify/", html(s.reviewModifyHandler)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/reviews/review/{id:[0-9]+}/delete/", html(s.reviewDeleteHandler)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/reviews/follows/", html(s.followsHandler)).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/reviews/unfollow/{id:[0-9]+}/", html(s.unfollowHandler)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/reviews/block/{id:[0-9]+}/", html(s.blockHandler)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/reviews/unblock/{id:[0-9]+}/", html(s.unblockHandler)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/reviews/profile/picture/", html(s.profilePictureHandler)).Methods(http.MethodPost)

	r.Handle("/reviews/follow_user/", api(s.followUserHandler)).Methods(http.MethodPost)
	r.Handle("/reviews/search_user/", api(s.searchUserHandler)).Methods(http.MethodGet)

	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))

	return &logHandler{log: s.log, next: s.limiter.LimitWrites(r)}
}

func (s *litrevuServer) homeHandler(w http.ResponseWriter, r *http.Request) {
	if s.authenticate(r) != nil {
		http.Redirect(w, r, "/reviews/", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login/", http.StatusFound)
}

func (s *litrevuServer) loginHandler(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r)
	if r.Method == http.MethodGet {
		if s.authenticate(r) != nil {
			http.Redirect(w, r, "/reviews/", http.StatusFound)
			return
		}
		s.render(w, r, "login", http.StatusOK, nil)
		return
	}

	payload := validator.LoginPayload{
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
	}
	if err := payload.Validate(); err != nil {
		s.render(w, r, "login", http.StatusUnprocessableEntity, map[string]interface{}{
			"username": payload.Username,
			"errors":   validator.FieldErrors(err),
		})
		return
	}

	user, token, err := s.auth.Login(r.Context(), payload.Username, payload.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		s.render(w, r, "login", http.StatusUnauthorized, map[string]interface{}{
			"username": payload.Username,
			"errors":   map[string]string{"__all__": "Nom d'utilisateur ou mot de passe incorrect."},
		})
		return
	}
	if err != nil {
		renderHTTPError(log, r, w, errors.Wrap(err, "could not log in"), http.StatusInternalServerError)
		return
	}

	log.WithField("user_id", user.ID).Info("login")
	s.setTokenCookie(w, token)
	http.Redirect(w, r, "/reviews/", http.StatusFound)
}

func (s *litrevuServer) signupHandler(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r)
	if r.Method == http.MethodGet {
		s.render(w, r, "signup", http.StatusOK, nil)
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password1")
	_, err := s.auth.Signup(r.Context(), username, password, r.FormValue("password2"))
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		s.render(w, r, "signup", http.StatusUnprocessableEntity, map[string]interface{}{
			"username": username,
			"errors":   verr.Fields,
		})
		return
	}
	if err != nil {
		renderHTTPError(log, r, w, errors.Wrap(err, "could not sign up"), http.StatusInternalServerError)
		return
	}

	// 注册后直接登录
	_, token, err := s.auth.Login(r.Context(), username, password)
	if err != nil {
		renderHTTPError(log, r, w, errors.Wrap(err, "could not log in after signup"), http.StatusInternalServerError)
		return
	}
	s.setTokenCookie(w, token)
	s.setFlash(w, "Compte créé avec succès!")
	http.Redirect(w, r, "/reviews/", http.StatusFound)
}

func (s *litrevuServer) logoutHandler(w http.ResponseWriter, r *http.Request) {
	s.requestLog(r).Debug("logging out")
	s.clearCookie(w, cookieToken)
	http.Redirect(w, r, "/login/", http.StatusFound)
}

func (s *litrevuServer) feedHandler(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r)
	feed, err := s.feed.Feed(r.Context(), currentUser(r).ID)
	if err != nil {
		renderHTTPError(log, r, w, errors.Wrap(err, "could not build feed"), http.StatusInternalServerError)
		return
	}
	s.render(w, r, "feed", http.StatusOK, map[string]interface{}{
		"posts":    feed.Posts,
		"reviewed": feed.ReviewedTicketIDs,
	})
}

func (s *litrevuServer) postsHandler(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r)
	posts, err := s.feed.Posts(r.Context(), currentUser(r).ID)
	if err != nil {
		renderHTTPError(log, r, w, errors.Wrap(err, "could not list posts"), http.StatusInternalServerError)
		return
	}
	s.render(w, r, "posts", http.StatusOK, map[string]interface{}{
		"posts": posts,
	})
}

func (s *litrevuServer) ticketCreateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.render(w, r, "ticket_form", http.StatusOK, map[string]interface{}{"action": "create"})
		return
	}

	in, err := s.ticketInput(r, "title", "description", "image")
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	_, err = s.posts.CreateTicket(r.Context(), currentUser(r).ID, in)
	if err != nil {
		s.discardUpload(r, in.Image)
		in.Image = ""
	}
	if s.renderFormError(w, r, "ticket_form", err, map[string]interface{}{"action": "create", "form": in}) {
		return
	}
	http.Redirect(w, r, "/reviews/", http.StatusFound)
}

func (s *litrevuServer) ticketModifyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	actor := currentUser(r).ID

	ticket, err := s.posts.GetTicketForEdit(r.Context(), actor, id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if r.Method == http.MethodGet {
		s.render(w, r, "ticket_form", http.StatusOK, map[string]interface{}{
			"action": "modify",
			"ticket": ticket,
			"form":   service.TicketInput{Title: ticket.Title, Description: ticket.Description, Image: ticket.Image},
		})
		return
	}

	in, err := s.ticketInput(r, "title", "description", "image")
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	_, err = s.posts.UpdateTicket(r.Context(), actor, id, in)
	if err != nil {
		s.discardUpload(r, in.Image)
		in.Image = ""
	}
	if s.renderFormError(w, r, "ticket_form", err, map[string]interface{}{"action": "modify", "ticket": ticket, "form": in}) {
		return
	}
	http.Redirect(w, r, "/reviews/posts/", http.StatusFound)
}

func (s *litrevuServer) ticketDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	actor := currentUser(r).ID

	if r.Method == http.MethodGet {
		ticket, err := s.posts.GetTicketForEdit(r.Context(), actor, id)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		s.render(w, r, "confirm_delete", http.StatusOK, map[string]interface{}{
			"kind":  "ticket",
			"title": ticket.Title,
		})
		return
	}

	if err := s.posts.DeleteTicket(r.Context(), actor, id); err != nil {
		s.handleError(w, r, err)
		return
	}
	s.setFlash(w, "Ticket supprimé.")
	http.Redirect(w, r, "/reviews/posts/", http.StatusFound)
}

// reviewCreateHandler creates a ticket and its review in one go.
func (s *litrevuServer) reviewCreateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.render(w, r, "review_form", http.StatusOK, map[string]interface{}{"action": "create", "standalone": true})
		return
	}

	tin, err := s.ticketInput(r, "ticket_title", "ticket_description", "ticket_image")
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	rin := reviewInput(r)
	_, _, err = s.posts.CreateReviewWithTicket(r.Context(), currentUser(r).ID, tin, rin)
	if err != nil {
		s.discardUpload(r, tin.Image)
		tin.Image = ""
	}
	if s.renderFormError(w, r, "review_form", err, map[string]interface{}{
		"action":     "create",
		"standalone": true,
		"ticketForm": tin,
		"form":       rin,
	}) {
		return
	}
	http.Redirect(w, r, "/reviews/", http.StatusFound)
}

func (s *litrevuServer) reviewForTicketHandler(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := s.pathID(w, r, "ticket_id")
	if !ok {
		return
	}
	ticket, err := s.posts.GetTicket(r.Context(), ticketID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if r.Method == http.MethodGet {
		s.render(w, r, "review_form", http.StatusOK, map[string]interface{}{"action": "create", "ticket": ticket})
		return
	}

	rin := reviewInput(r)
	_, err = s.posts.CreateReview(r.Context(), currentUser(r).ID, ticketID, rin)
	if errors.Is(err, service.ErrAlreadyReviewed) {
		s.setFlash(w, "Vous avez déjà publié une critique pour ce ticket.")
		http.Redirect(w, r, "/reviews/", http.StatusFound)
		return
	}
	if s.renderFormError(w, r, "review_form", err, map[string]interface{}{"action": "create", "ticket": ticket, "form": rin}) {
		return
	}
	http.Redirect(w, r, "/reviews/", http.StatusFound)
}

func (s *litrevuServer) reviewModifyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	actor := currentUser(r).ID

	review, err := s.posts.GetReviewForEdit(r.Context(), actor, id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	ticket := &review.Ticket
	if r.Method == http.MethodGet {
		s.render(w, r, "review_form", http.StatusOK, map[string]interface{}{
			"action": "modify",
			"ticket": ticket,
			"form":   service.ReviewInput{Headline: review.Headline, Rating: review.Rating, Body: review.Body},
		})
		return
	}

	rin := reviewInput(r)
	_, err = s.posts.UpdateReview(r.Context(), actor, id, rin)
	if s.renderFormError(w, r, "review_form", err, map[string]interface{}{"action": "modify", "ticket": ticket, "form": rin}) {
		return
	}
	http.Redirect(w, r, "/reviews/posts/", http.StatusFound)
}

func (s *litrevuServer) reviewDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	actor := currentUser(r).ID

	if r.Method == http.MethodGet {
		review, err := s.posts.GetReviewForEdit(r.Context(), actor, id)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		s.render(w, r, "confirm_delete", http.StatusOK, map[string]interface{}{
			"kind":  "review",
			"title": review.Headline,
		})
		return
	}

	if err := s.posts.DeleteReview(r.Context(), actor, id); err != nil {
		s.handleError(w, r, err)
		return
	}
	s.setFlash(w, "Critique supprimée.")
	http.Redirect(w, r, "/reviews/posts/", http.StatusFound)
}

func (s *litrevuServer) followsHandler(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r)
	overview, err := s.graph.Overview(r.Context(), currentUser(r).ID)
	if err != nil {
		renderHTTPError(log, r, w, errors.Wrap(err, "could not load subscriptions"), http.StatusInternalServerError)
		return
	}
	s.render(w, r, "follows", http.StatusOK, map[string]interface{}{
		"following": overview.Following,
		"followers": overview.Followers,
		"blocked":   overview.Blocked,
	})
}

// followUserHandler answers the search dropdown with {"success": bool, "error": string}.
func (s *litrevuServer) followUserHandler(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r)
	payload := validator.FollowPayload{Username: strings.TrimSpace(r.FormValue("username"))}
	if err := payload.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   validator.ValidationErrorResponse(err).Error(),
		})
		return
	}

	err := s.graph.Follow(r.Context(), currentUser(r).ID, payload.Username)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "user not found"})
	case errors.Is(err, service.ErrSelfFollow):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
	default:
		log.WithField("error", err).Error("follow failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": "internal error"})
	}
}

func (s *litrevuServer) searchUserHandler(w http.ResponseWriter, r *http.Request) {
	log := s.requestLog(r)
	results, err := s.graph.Search(r.Context(), currentUser(r).ID, r.URL.Query().Get("q"))
	if err != nil {
		log.WithField("error", err).Error("user search failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *litrevuServer) unfollowHandler(w http.ResponseWriter, r *http.Request) {
	s.graphEdit(w, r, s.graph.Unfollow, "Abonnement supprimé.")
}

func (s *litrevuServer) blockHandler(w http.ResponseWriter, r *http.Request) {
	s.graphEdit(w, r, s.graph.Block, "Utilisateur bloqué.")
}

func (s *litrevuServer) unblockHandler(w http.ResponseWriter, r *http.Request) {
	s.graphEdit(w, r, s.graph.Unblock, "Utilisateur débloqué.")
}

func (s *litrevuServer) graphEdit(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, actorID, targetID uint) error, done string) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	err := op(r.Context(), currentUser(r).ID, id)
	switch {
	case err == nil:
		s.setFlash(w, done)
	case errors.Is(err, service.ErrSelfBlock):
		s.setFlash(w, err.Error())
	default:
		s.handleError(w, r, err)
		return
	}
	http.Redirect(w, r, "/reviews/follows/", http.StatusFound)
}

func (s *litrevuServer) profilePictureHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	path, err := s.saveUpload(r, "profile_picture")
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if path == "" {
		s.setFlash(w, "Aucune image reçue.")
	} else if err := s.auth.UpdateProfilePicture(r.Context(), user.ID, path); err != nil {
		s.discardUpload(r, path)
		s.handleError(w, r, err)
		return
	} else {
		s.setFlash(w, "Photo de profil mise à jour.")
	}
	http.Redirect(w, r, "/reviews/follows/", http.StatusFound)
}

// handleError maps service errors onto responses for HTML routes.
func (s *litrevuServer) handleError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.requestLog(r)
	var verr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrNotFound):
		renderHTTPError(log, r, w, err, http.StatusNotFound)
	case errors.Is(err, service.ErrPermissionDenied):
		log.WithField("error", err).Warn("permission denied")
		s.setFlash(w, "Vous n'avez pas la permission de faire cela.")
		http.Redirect(w, r, "/reviews/", http.StatusFound)
	case errors.As(err, &verr):
		renderHTTPError(log, r, w, err, http.StatusUnprocessableEntity)
	default:
		renderHTTPError(log, r, w, err, http.StatusInternalServerError)
	}
}

// renderFormError re-renders a form on validation failure and reports whether
// a response was written.
func (s *litrevuServer) renderFormError(w http.ResponseWriter, r *http.Request, name string, err error, data map[string]interface{}) bool {
	if err == nil {
		return false
	}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		data["errors"] = verr.Fields
		s.render(w, r, name, http.StatusUnprocessableEntity, data)
		return true
	}
	s.handleError(w, r, err)
	return true
}

func (s *litrevuServer) pathID(w http.ResponseWriter, r *http.Request, key string) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)[key], 10, 64)
	if err != nil || id == 0 {
		renderHTTPError(s.requestLog(r), r, w, errors.Wrapf(service.ErrNotFound, "invalid %s", key), http.StatusNotFound)
		return 0, false
	}
	return uint(id), true
}

func (s *litrevuServer) ticketInput(r *http.Request, title, description, image string) (service.TicketInput, error) {
	in := service.TicketInput{
		Title:       r.FormValue(title),
		Description: r.FormValue(description),
	}
	path, err := s.saveUpload(r, image)
	if err != nil {
		return in, err
	}
	in.Image = path
	return in, nil
}

func reviewInput(r *http.Request) service.ReviewInput {
	rating, err := strconv.Atoi(r.FormValue("rating"))
	if err != nil {
		rating = -1
	}
	return service.ReviewInput{
		Headline: r.FormValue("headline"),
		Rating:   rating,
		Body:     r.FormValue("body"),
	}
}

// saveUpload stores an uploaded image under <static>/uploads and returns its
// public path. A missing file is not an error and yields "".
func (s *litrevuServer) saveUpload(r *http.Request, field string) (string, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return "", nil
	}
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return "", &service.ValidationError{Fields: map[string]string{field: "Fichier trop volumineux."}}
	}
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "could not read upload")
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedImageExt[ext] {
		return "", &service.ValidationError{Fields: map[string]string{field: "Format d'image non supporté."}}
	}

	dir := filepath.Join(s.staticDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "could not create upload dir")
	}
	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", errors.Wrap(err, "could not store upload")
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return "", errors.Wrap(err, "could not store upload")
	}
	return "/static/uploads/" + name, nil
}

// discardUpload removes a file stored by saveUpload whose post was not saved.
func (s *litrevuServer) discardUpload(r *http.Request, path string) {
	if !strings.HasPrefix(path, "/static/uploads/") {
		return
	}
	name := filepath.Join(s.staticDir, "uploads", filepath.Base(path))
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		s.requestLog(r).Warnf("failed to remove upload %s: %v", name, err)
	}
}

func (s *litrevuServer) render(w http.ResponseWriter, r *http.Request, name string, code int, payload map[string]interface{}) {
	data := s.injectCommonTemplateData(w, r, payload)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.requestLog(r).Error(err)
	}
}

func renderHTTPError(log logrus.FieldLogger, r *http.Request, w http.ResponseWriter, err error, code int) {
	log.WithField("error", err).Error("request error")
	errMsg := fmt.Sprintf("%+v", err)
	if code < http.StatusInternalServerError {
		errMsg = err.Error()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if templateErr := templates.ExecuteTemplate(w, "error", map[string]interface{}{
		"error":       errMsg,
		"status_code": code,
		"status":      http.StatusText(code),
		"request_id":  r.Context().Value(ctxKeyRequestID{}),
		"user":        currentUser(r),
		"currentYear": time.Now().Year(),
	}); templateErr != nil {
		log.Println(templateErr)
	}
}

func (s *litrevuServer) injectCommonTemplateData(w http.ResponseWriter, r *http.Request, payload map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"request_id":  r.Context().Value(ctxKeyRequestID{}),
		"user":        currentUser(r),
		"flash":       s.popFlash(w, r),
		"errors":      map[string]string{},
		"currentYear": time.Now().Year(),
	}

	for k, v := range payload {
		data[k] = v
	}

	return data
}

func (s *litrevuServer) setFlash(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieFlash,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *litrevuServer) popFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(cookieFlash)
	if err != nil || c.Value == "" {
		return ""
	}
	s.clearCookie(w, cookieFlash)
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return msg
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func renderStars(rating int) string {
	if rating < model.RatingMin {
		rating = model.RatingMin
	}
	if rating > model.RatingMax {
		rating = model.RatingMax
	}
	return strings.Repeat("★", rating) + strings.Repeat("☆", model.RatingMax-rating)
}

func ratingChoices() []int {
	out := make([]int, 0, model.RatingMax-model.RatingMin+1)
	for i := model.RatingMin; i <= model.RatingMax; i++ {
		out = append(out, i)
	}
	return out
}

// dict builds a map from alternating keys and values, for passing several
// values to a nested template.
func dict(kv ...interface{}) (map[string]interface{}, error) {
	if len(kv)%2 != 0 {
		return nil, errors.New("dict needs an even number of arguments")
	}
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			return nil, errors.Errorf("dict key %v is not a string", kv[i])
		}
		m[k] = kv[i+1]
	}
	return m, nil
}

func formatDate(t time.Time) string {
	return t.Format("15:04, 02/01/2006")
}
