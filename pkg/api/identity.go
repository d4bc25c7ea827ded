package api

import (
	"context"

	"github.com/marmos91/dittosafe/pkg/identity"
)

func (a *API) identities() (*identity.Registry, error) {
	e, err := a.engine()
	if err != nil {
		return nil, err
	}
	return e.Identities()
}

// NewIdentity generates and stores an identity.
func (a *API) NewIdentity(nick string) Result {
	reg, err := a.identities()
	if err != nil {
		return fail(err)
	}
	id, err := reg.Create(context.Background(), nick)
	if err != nil {
		return fail(err)
	}
	return ok(id)
}

// NewIdentityFromPrivate rebuilds an identity from its private material and
// stores it.
func (a *API) NewIdentityFromPrivate(nick, private string) Result {
	reg, err := a.identities()
	if err != nil {
		return fail(err)
	}
	id, err := identity.FromPrivate(nick, private)
	if err != nil {
		return fail(err)
	}
	stored, err := reg.Put(context.Background(), id)
	if err != nil {
		return fail(err)
	}
	return ok(stored)
}

// GetIdentity returns the stored identity with the given id.
func (a *API) GetIdentity(id string) Result {
	reg, err := a.identities()
	if err != nil {
		return fail(err)
	}
	found, err := reg.Get(context.Background(), id)
	if err != nil {
		return fail(err)
	}
	return ok(found)
}

// SetIdentity stores identityJSON, replacing any previous version.
func (a *API) SetIdentity(identityJSON string) Result {
	reg, err := a.identities()
	if err != nil {
		return fail(err)
	}
	id, err := parseIdentity(identityJSON)
	if err != nil {
		return fail(err)
	}
	stored, err := reg.Put(context.Background(), id)
	if err != nil {
		return fail(err)
	}
	return ok(stored)
}

// GetAllIdentities returns every stored identity ordered by id.
func (a *API) GetAllIdentities() Result {
	reg, err := a.identities()
	if err != nil {
		return fail(err)
	}
	all, err := reg.List(context.Background())
	if err != nil {
		return fail(err)
	}
	return ok(all)
}
