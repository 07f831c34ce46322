package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/utils"
)

const maxBodySize = 1 << 20

var requestValidator = validator.New()

// catalogError passes not found and bad request errors through and marks
// everything else as an upstream failure.
func catalogError(err error) error {
	if errors.Is(err, catalog.ErrSceneNotFound) || utils.IsConfiguration(err) {
		return err
	}
	var bad *badRequest
	if errors.As(err, &bad) {
		return err
	}
	return &upstreamError{err: err}
}

func searchFromQuery(r *http.Request) (catalog.SearchRequest, error) {
	var req catalog.SearchRequest
	query := r.URL.Query()

	if v := query.Get("bbox"); len(v) > 0 {
		bbox, err := utils.ParseBBox(v)
		if err != nil {
			return req, &badRequest{msg: err.Error()}
		}
		req.BBox = bbox
	}
	req.Collections = utils.ParseList(query.Get("collections"))
	req.Datetime = query.Get("datetime")
	if v := query.Get("limit"); len(v) > 0 {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return req, &badRequest{msg: fmt.Sprintf("invalid limit %q", v)}
		}
		req.Limit = limit
	}
	if v := query.Get("cloud_cover_max"); len(v) > 0 {
		cc, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, &badRequest{msg: fmt.Sprintf("invalid cloud_cover_max %q", v)}
		}
		req.CloudCoverMax = &cc
	}
	return req, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return &badRequest{msg: fmt.Sprintf("read body: %v", err)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &badRequest{msg: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return nil
}

func (s *Server) serveSearch(w http.ResponseWriter, r *http.Request) {
	var req catalog.SearchRequest
	var err error
	if r.Method == http.MethodPost {
		err = decodeBody(r, &req)
	} else {
		req, err = searchFromQuery(r)
	}
	if err == nil {
		if verr := requestValidator.Struct(&req); verr != nil {
			err = &badRequest{msg: verr.Error()}
		}
	}
	if err != nil {
		fail(w, s.Logger, r, err)
		return
	}

	res, err := s.Catalog.Search(r.Context(), req)
	if err != nil {
		fail(w, s.Logger, r, catalogError(err))
		return
	}
	if res.Scenes == nil {
		res.Scenes = []*catalog.Scene{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) serveCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := s.Catalog.Collections(r.Context())
	if err != nil {
		fail(w, s.Logger, r, catalogError(err))
		return
	}
	if cols == nil {
		cols = []catalog.Collection{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": cols})
}

func (s *Server) serveScene(w http.ResponseWriter, r *http.Request) {
	scene, err := s.Catalog.GetScene(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "scene_id"))
	if err != nil {
		fail(w, s.Logger, r, catalogError(err))
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

func (s *Server) serveCOGInfo(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("url")
	if len(src) == 0 {
		fail(w, s.Logger, r, &badRequest{msg: "url is required"})
		return
	}
	if err := s.guard(r.Context(), src); err != nil {
		fail(w, s.Logger, r, err)
		return
	}
	info, err := s.Sources.Info(r.Context(), src)
	if err != nil {
		fail(w, s.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
