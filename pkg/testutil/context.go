package testutil

import (
	"net/http"

	id "civicwatch/pkg/domain"
	"civicwatch/pkg/requestcontext"
)

// WithActor attaches a resolved actor to the request, as the auth middleware
// would after a successful session lookup.
func WithActor(req *http.Request, actor id.Actor) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// Citizen, Official and Admin build actors with fresh IDs.
func Citizen() id.Actor {
	return id.Actor{ID: id.NewUserID(), Role: id.RoleCitizen}
}

func Official() id.Actor {
	return id.Actor{ID: id.NewUserID(), Role: id.RoleOfficial}
}

func Admin() id.Actor {
	return id.Actor{ID: id.NewUserID(), Role: id.RoleSuperAdmin}
}
