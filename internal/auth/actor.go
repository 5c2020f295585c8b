package auth

import (
	"errors"
	"net/http"

	"github.com/gofrs/uuid"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type ActorKind string

const (
	// ActorUser is an authenticated end user: a customer or a member of
	// restaurant staff. Which of the two it is gets decided per operation,
	// by ownership or by a StaffDirectory lookup.
	ActorUser ActorKind = "user"
	// ActorSystem is an internal caller such as the payment confirmation
	// path or the pending-order expirer. It never originates from a request.
	ActorSystem ActorKind = "system"
)

// Actor identifies who is performing an operation.
type Actor struct {
	ID   uuid.UUID
	Kind ActorKind
}

func UserActor(id uuid.UUID) Actor { return Actor{ID: id, Kind: ActorUser} }

func SystemActor() Actor { return Actor{Kind: ActorSystem} }

// Resolver extracts the acting user from an incoming request. The session
// and token machinery behind it belongs to the auth subsystem and is not
// part of this service.
type Resolver interface {
	Resolve(r *http.Request) (Actor, error)
}

// HeaderResolver trusts a user id header injected by the authenticating
// gateway in front of this service. It is the deployment default; tests
// use it directly.
type HeaderResolver struct {
	Header string
}

func NewHeaderResolver() HeaderResolver {
	return HeaderResolver{Header: "X-User-ID"}
}

func (h HeaderResolver) Resolve(r *http.Request) (Actor, error) {
	raw := r.Header.Get(h.Header)
	if raw == "" {
		return Actor{}, ErrUnauthenticated
	}

	id, err := uuid.FromString(raw)
	if err != nil {
		return Actor{}, ErrUnauthenticated
	}

	return UserActor(id), nil
}
