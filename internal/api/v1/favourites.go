package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/chatlog/internal/favourite"
	"github.com/gosuda/chatlog/internal/server/middleware"
)

type ListFavouritesOutput struct {
	Body map[string][]string
}

type FavouriteInput struct {
	Account   string `query:"account" required:"true" minLength:"1"`
	ContactID string `query:"contact_id" required:"true" minLength:"1"`
}

type FavouriteChangeOutput struct {
	Body struct {
		Changed bool `json:"changed" doc:"False when the request matched the current state"`
	}
}

func favouriteError(op string, err error) error {
	if errors.Is(err, favourite.ErrInvalidContact) {
		return huma.Error400BadRequest("invalid account or contact id", err)
	}
	return huma.Error500InternalServerError("failed to "+op+" favourite", err)
}

func RegisterFavouriteRoutes(api huma.API, favs FavouriteStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-favourites",
		Method:      http.MethodGet,
		Path:        "/favourites",
		Summary:     "List favourite contacts per account",
		Tags:        []string{"Favourites"},
	}, func(ctx context.Context, _ *struct{}) (*ListFavouritesOutput, error) {
		all, err := favs.List(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list favourites", err)
		}
		for account := range all {
			if !middleware.CanRead(ctx, account) {
				delete(all, account)
			}
		}
		return &ListFavouritesOutput{Body: all}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-favourite",
		Method:      http.MethodPut,
		Path:        "/favourites",
		Summary:     "Mark a contact as favourite",
		Tags:        []string{"Favourites"},
	}, func(ctx context.Context, input *FavouriteInput) (*FavouriteChangeOutput, error) {
		if err := requireAccount(ctx, input.Account); err != nil {
			return nil, err
		}
		added, err := favs.Add(ctx, input.Account, input.ContactID)
		if err != nil {
			return nil, favouriteError("add", err)
		}
		out := &FavouriteChangeOutput{}
		out.Body.Changed = added
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-favourite",
		Method:      http.MethodDelete,
		Path:        "/favourites",
		Summary:     "Unmark a favourite contact",
		Tags:        []string{"Favourites"},
	}, func(ctx context.Context, input *FavouriteInput) (*FavouriteChangeOutput, error) {
		if err := requireAccount(ctx, input.Account); err != nil {
			return nil, err
		}
		removed, err := favs.Remove(ctx, input.Account, input.ContactID)
		if err != nil {
			return nil, favouriteError("remove", err)
		}
		out := &FavouriteChangeOutput{}
		out.Body.Changed = removed
		return out, nil
	})
}
