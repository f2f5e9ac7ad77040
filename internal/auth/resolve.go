package auth

import "strings"

// Requirement declares how one identity axis of a request is resolved.
type Requirement int

const (
	// RequirementUnset leaves the axis unresolved.
	RequirementUnset Requirement = iota
	// Required fails with ErrUnauthenticated unless a valid token is presented.
	Required
	// Optional attaches the identity when a valid token is presented and nil otherwise.
	Optional
	// Denied fails with ErrUnauthorized when a valid token is presented.
	Denied
)

func (r Requirement) String() string {
	switch r {
	case Required:
		return "required"
	case Optional:
		return "optional"
	case Denied:
		return "denied"
	default:
		return "unset"
	}
}

// TokenVerifier verifies access tokens for both identity axes.
// *Codec implements it.
type TokenVerifier interface {
	VerifyUserAccessToken(token string) (UserClaims, error)
	VerifyDeviceAccessToken(token string) (int64, error)
}

// BearerToken extracts the token from an Authorization header value.
// The "Bearer " prefix is matched case-sensitively.
func BearerToken(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

// ResolveUser resolves the user axis of a request. It returns a nil
// identity with a nil error when nothing should be attached.
func ResolveUser(req Requirement, token string, v TokenVerifier) (*UserIdentity, error) {
	return resolve(req, token, func(t string) (UserIdentity, error) {
		claims, err := v.VerifyUserAccessToken(t)
		if err != nil {
			return UserIdentity{}, err
		}
		return UserIdentity{ID: claims.UserID, Role: claims.Role}, nil
	})
}

// ResolveDevice resolves the device axis of a request.
func ResolveDevice(req Requirement, token string, v TokenVerifier) (*DeviceIdentity, error) {
	return resolve(req, token, func(t string) (DeviceIdentity, error) {
		id, err := v.VerifyDeviceAccessToken(t)
		if err != nil {
			return DeviceIdentity{}, err
		}
		return DeviceIdentity{ID: id}, nil
	})
}

func resolve[T any](req Requirement, token string, verify func(string) (T, error)) (*T, error) {
	if req == RequirementUnset {
		return nil, nil
	}

	var identity *T
	if token != "" {
		if v, err := verify(token); err == nil {
			identity = &v
		}
	}

	switch req {
	case Required:
		if identity == nil {
			return nil, ErrUnauthenticated
		}
		return identity, nil
	case Denied:
		if identity != nil {
			return nil, ErrUnauthorized
		}
		return nil, nil
	default:
		return identity, nil
	}
}
