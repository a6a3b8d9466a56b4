package http

import (
	"context"
	"net/http"
)

// Handler factories adapt service methods to HTTP. Path parameters are "id"
// for the addressed resource and "itemId" for a checklist item under it.

// reply writes v with status on success and maps err otherwise.
func reply[T any](w http.ResponseWriter, status int, v T, err error, notFound string) {
	if err != nil {
		writeDomainError(w, err, notFound)
		return
	}
	writeJSON(w, status, v)
}

// orEmpty keeps empty collections encoding as [] rather than null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func handleList[T any](list func(context.Context) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := list(r.Context())
		reply(w, http.StatusOK, orEmpty(items), err, "not found")
	}
}

func handleListByID[T any](list func(context.Context, string) ([]T, error), notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := list(r.Context(), urlParam(r, "id"))
		reply(w, http.StatusOK, orEmpty(items), err, notFound)
	}
}

func handleGet[T any](get func(context.Context, string) (*T, error), notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := get(r.Context(), urlParam(r, "id"))
		reply(w, http.StatusOK, v, err, notFound)
	}
}

// handleCreate decodes a Req body and answers 201 with the created resource.
// A not-found error here means the body referenced a missing parent.
func handleCreate[Req, Res any](limit int64, create func(context.Context, Req) (*Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[Req](w, r, limit)
		if !ok {
			return
		}
		v, err := create(r.Context(), req)
		reply(w, http.StatusCreated, v, err, "referenced resource not found")
	}
}

// handleAction serves a bodyless POST on the resource named by "id".
func handleAction[T any](act func(context.Context, string) (*T, error), notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := act(r.Context(), urlParam(r, "id"))
		reply(w, http.StatusOK, v, err, notFound)
	}
}

// handleItemAction serves a bodyless POST on one checklist item.
func handleItemAction[T any](act func(ctx context.Context, discussionID, itemID string) (*T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := act(r.Context(), urlParam(r, "id"), urlParam(r, "itemId"))
		reply(w, http.StatusOK, v, err, "discussion or checklist item not found")
	}
}
