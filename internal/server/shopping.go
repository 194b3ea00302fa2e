package server

import (
	"net/http"

	"github.com/zombor/finance-tracker/internal/finance"
	"github.com/zombor/finance-tracker/internal/state"
)

type shoppingItemRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name" validate:"required,max=200"`
	Quantity  int    `json:"quantity" validate:"min=1"`
	Completed bool   `json:"completed"`
}

type shoppingListRequest struct {
	Name  string                `json:"name" validate:"required,max=200"`
	Items []shoppingItemRequest `json:"items" validate:"dive"`
}

// toList builds the list with the given id. An item keeps its id only when
// current already holds it; every other item gets a new one.
func (s *Server) toList(id string, req shoppingListRequest, current []finance.ShoppingItem) finance.ShoppingList {
	known := make(map[string]bool, len(current))
	for _, item := range current {
		known[item.ID] = true
	}

	items := make([]finance.ShoppingItem, 0, len(req.Items))
	for _, item := range req.Items {
		if !known[item.ID] {
			item.ID = s.ids.Generate()
		}
		// A repeated id keeps its first item only
		delete(known, item.ID)
		items = append(items, finance.ShoppingItem{
			ID:        item.ID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Completed: item.Completed,
		})
	}
	return finance.ShoppingList{ID: id, Name: req.Name, Items: items}
}

func currentItems(store *state.Store, id string) []finance.ShoppingItem {
	for _, l := range store.ShoppingLists() {
		if l.ID == id {
			return l.Items
		}
	}
	return nil
}

func (s *Server) handleListShoppingLists(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, store.ShoppingLists())
}

func (s *Server) handleCreateShoppingList(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}

	var req shoppingListRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	list, err := store.AddShoppingList(r.Context(), s.toList(s.ids.Generate(), req, nil))
	if err != nil {
		writeStoreError(w, r, err, "Error creating shopping list")
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

func (s *Server) handleUpdateShoppingList(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}

	var req shoppingListRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	list, err := store.UpdateShoppingList(r.Context(), s.toList(id, req, currentItems(store, id)))
	if err != nil {
		writeStoreError(w, r, err, "Error updating shopping list")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteShoppingList(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}

	if err := store.DeleteShoppingList(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, r, err, "Error deleting shopping list")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
