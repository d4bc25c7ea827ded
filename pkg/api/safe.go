package api

import (
	"context"
	"encoding/base64"

	"github.com/marmos91/dittosafe/pkg/errs"
	"github.com/marmos91/dittosafe/pkg/safe"
)

// CreateSafe creates the safe named in token and returns its handle.
// usersJSON maps user ids to permissions ({"<id>": "read"}).
func (a *API) CreateSafe(creatorJSON, token, usersJSON, optionsJSON string) Result {
	e, err := a.engine()
	if err != nil {
		return fail(err)
	}
	creator, err := parseIdentity(creatorJSON)
	if err != nil {
		return fail(err)
	}
	users, err := decode[safe.Users](usersJSON, "users")
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.CreateOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}

	h, err := e.CreateSafe(context.Background(), creator, token, users, opts)
	if err != nil {
		return fail(err)
	}
	return ok(h)
}

// OpenSafe opens the safe named in token and returns its handle.
func (a *API) OpenSafe(identityJSON, token, optionsJSON string) Result {
	e, err := a.engine()
	if err != nil {
		return fail(err)
	}
	id, err := parseIdentity(identityJSON)
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.OpenOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}

	h, err := e.OpenSafe(context.Background(), id, token, opts)
	if err != nil {
		return fail(err)
	}
	return ok(h)
}

// CloseSafe closes handle. Closing it again fails with InvalidHandle.
func (a *API) CloseSafe(handle int64) Result {
	e, err := a.engine()
	if err != nil {
		return fail(err)
	}
	if err := e.CloseSafe(context.Background(), safe.Handle(handle)); err != nil {
		return fail(err)
	}
	return done()
}

// SyncSafe pulls changes made by other devices and returns how many
// headers were applied.
func (a *API) SyncSafe(handle int64, optionsJSON string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.SyncOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}
	n, err := s.Sync(context.Background(), opts)
	if err != nil {
		return fail(err)
	}
	return ok(n)
}

// ListFiles returns the headers of the files in dir.
func (a *API) ListFiles(handle int64, dir, optionsJSON string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.ListOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}
	files, err := s.ListFiles(context.Background(), dir, opts)
	if err != nil {
		return fail(err)
	}
	if files == nil {
		files = []safe.Header{}
	}
	return ok(files)
}

// ListDirs returns the subdirectories of dir.
func (a *API) ListDirs(handle int64, dir, optionsJSON string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.ListDirsOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}
	dirs, err := s.ListDirs(context.Background(), dir, opts)
	if err != nil {
		return fail(err)
	}
	if dirs == nil {
		dirs = []string{}
	}
	return ok(dirs)
}

// PutBytes stores the standard base64 dataBase64 under name and returns
// the new header.
func (a *API) PutBytes(handle int64, name, dataBase64, optionsJSON string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	data, err := base64.StdEncoding.DecodeString(dataBase64)
	if err != nil {
		return fail(errs.Wrap(errs.KindInvalidArgument, err, name, "data is not base64"))
	}
	opts, err := options[safe.PutOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}
	h, err := s.PutBytes(context.Background(), name, data, opts)
	if err != nil {
		return fail(err)
	}
	return ok(h)
}

// PutFile stores the local file source under name.
func (a *API) PutFile(handle int64, name, source, optionsJSON string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.PutOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}
	h, err := s.PutFile(context.Background(), name, source, opts)
	if err != nil {
		return fail(err)
	}
	return ok(h)
}

// PutFiles stores several local files. filesJSON is a list of
// {name, source}; on failure the error names the file that failed.
func (a *API) PutFiles(handle int64, filesJSON, optionsJSON string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	files, err := decode[[]safe.FileSource](filesJSON, "files")
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.PutOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}
	headers, err := s.PutFiles(context.Background(), files, opts)
	if err != nil {
		return fail(err)
	}
	return ok(headers)
}

// GetBytes returns the content of name as a base64 JSON string.
func (a *API) GetBytes(handle int64, name, optionsJSON string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.GetOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}
	data, err := s.GetBytes(context.Background(), name, opts)
	if err != nil {
		return fail(err)
	}
	return ok(data)
}

// GetFile writes the content of name to the local path dest.
func (a *API) GetFile(handle int64, name, dest, optionsJSON string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.GetOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}
	if err := s.GetFile(context.Background(), name, dest, opts); err != nil {
		return fail(err)
	}
	return done()
}

// PatchFile changes the content type, tags or meta of name without
// uploading its content again.
func (a *API) PatchFile(handle int64, name, optionsJSON string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.PatchOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}
	h, err := s.Patch(context.Background(), name, opts)
	if err != nil {
		return fail(err)
	}
	return ok(h)
}

// DeleteFile removes name from the safe.
func (a *API) DeleteFile(handle int64, name string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	if err := s.Delete(context.Background(), name); err != nil {
		return fail(err)
	}
	return done()
}

// SetUsers grants the permissions in usersJSON. Only admins may call it.
func (a *API) SetUsers(handle int64, usersJSON, optionsJSON string) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	users, err := decode[safe.Users](usersJSON, "users")
	if err != nil {
		return fail(err)
	}
	opts, err := options[safe.SetUsersOptions](optionsJSON)
	if err != nil {
		return fail(err)
	}
	if err := s.SetUsers(context.Background(), users, opts); err != nil {
		return fail(err)
	}
	return done()
}

// GetUsers returns the users of the safe and their permissions.
func (a *API) GetUsers(handle int64) Result {
	s, err := a.session(handle)
	if err != nil {
		return fail(err)
	}
	users, err := s.GetUsers(context.Background())
	if err != nil {
		return fail(err)
	}
	return ok(users)
}
