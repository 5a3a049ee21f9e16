package app

import (
	"net/http"
	"net/url"
	"strings"

	"docgate/api/internal/auth"
	"docgate/api/internal/query"
	"docgate/api/internal/rbac"
	"docgate/api/internal/store"
	"docgate/api/internal/upload"
)

// handleData serves /data/<prefix>-<db>/[<collection>[/<id>]]. Everything
// up to the first '-' of the database segment is a cache-busting prefix.
func (s *HTTPServer) handleData(w http.ResponseWriter, r *http.Request, caller Identity, parts []string) {
	database := parts[0]
	if _, rest, ok := strings.Cut(database, "-"); ok {
		database = rest
	}
	if database == "" || strings.HasPrefix(database, "_") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	key := accessKey(r)
	trailingSlash := strings.HasSuffix(r.URL.Path, "/")

	switch {
	case len(parts) == 1:
		s.handleDatabase(w, r, caller, key, database)
	case len(parts) == 2 && !trailingSlash && r.Method == http.MethodDelete:
		access, err := s.service.CheckKey(caller, key, database, rbac.AllCollections, auth.Delete, "drop collection")
		if err != nil {
			s.fail(w, err)
			return
		}
		if err := s.service.DropCollection(r.Context(), access, database, parts[1]); err != nil {
			s.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2:
		s.handleCollection(w, r, caller, key, database, parts[1])
	case len(parts) == 3:
		s.handleItem(w, r, caller, key, database, parts[1], parts[2])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleDatabase(w http.ResponseWriter, r *http.Request, caller Identity, key, database string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	access, err := s.service.CheckKey(caller, key, database, rbac.AllCollections, auth.Read, "listing")
	if err != nil {
		s.fail(w, err)
		return
	}
	page, err := s.service.ListCollections(r.Context(), access, database, queryInput(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Range", page.ContentRange())
	writeJSON(w, http.StatusOK, page.Items)
}

func (s *HTTPServer) handleCollection(w http.ResponseWriter, r *http.Request, caller Identity, key, database, collection string) {
	switch r.Method {
	case http.MethodGet:
		access, err := s.service.CheckKey(caller, key, database, collection, auth.Read, "read")
		if err != nil {
			s.fail(w, err)
			return
		}
		page, err := s.service.Query(r.Context(), access, database, collection, queryInput(r))
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Range", page.ContentRange())
		writeJSON(w, http.StatusOK, page.Items)

	case http.MethodPost:
		access, err := s.service.CheckKey(caller, key, database, collection, auth.Create, "create")
		if err != nil {
			s.fail(w, err)
			return
		}
		var body store.Document
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateItem(r.Context(), access, database, collection, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Location", dataURL(database, collection)+url.PathEscape(item[store.IDField].(string)))
		writeJSON(w, http.StatusCreated, item)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleItem(w http.ResponseWriter, r *http.Request, caller Identity, key, database, collection, id string) {
	switch r.Method {
	case http.MethodGet:
		access, err := s.service.CheckKey(caller, key, database, collection, auth.Read, "read")
		if err != nil {
			s.fail(w, err)
			return
		}
		item, err := s.service.GetItem(r.Context(), access, database, collection, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case http.MethodPut:
		access, err := s.service.CheckKey(caller, key, database, collection, auth.Update, "update")
		if err != nil {
			s.fail(w, err)
			return
		}
		var body store.Document
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.ReplaceItem(r.Context(), access, database, collection, id, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case http.MethodDelete:
		access, err := s.service.CheckKey(caller, key, database, collection, auth.Delete, "delete item")
		if err != nil {
			s.fail(w, err)
			return
		}
		if err := s.service.DeleteItem(r.Context(), access, database, collection, id); err != nil {
			s.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, caller Identity) {
	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxSize+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file is required", nil)
		return
	}
	defer file.Close()

	key := r.FormValue("Authorization")
	if key == "" {
		key = accessKey(r)
	}
	item, err := s.service.Upload(r.Context(), caller, UploadInput{
		Key:         key,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		Tags:        r.FormValue("tags"),
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		CreditURL:   r.FormValue("creditURL"),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	medium, _ := upload.Medium(header.Header.Get("Content-Type"))
	w.Header().Set("Location", "/"+upload.MediaDatabase+"/"+medium+"/"+item[store.IDField].(string))
	writeJSON(w, http.StatusCreated, item)
}

func queryInput(r *http.Request) QueryInput {
	values := r.URL.Query()
	return QueryInput{
		MQ:    values.Get(query.FilterParam),
		MS:    values.Get(query.SortParam),
		Range: r.Header.Get("Range"),
	}
}

func canManageUsers(caller Identity) bool {
	return caller.Role == rbac.RoleDeveloper || caller.Role == rbac.RoleAdmin
}
