package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/zenazn/goji/web"

	"github.com/janelia-flyem/horta/horta"
)

// authConfig is the [auth] section of the TOML file.  An empty secret key disables
// authentication.
type authConfig struct {
	AuthFile  string `toml:"auth_file"`
	SecretKey string `toml:"secret_key"`
}

// GenerateJWT returns a JWT for the user signed with the secret key.
func GenerateJWT(user, secretKey string) (string, error) {
	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["user"] = user

	tokenString, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("error with JWT signing: %v", err)
	}
	return tokenString, nil
}

// loadAuthFile reads a JSON map of user to privilege ("read", "write", "readwrite").
// The user "*" matches any user.
func loadAuthFile(filename string) (map[string]string, error) {
	if len(filename) == 0 {
		horta.Infof("No authorization file found.  Any user with a valid token is authorized.\n")
		return nil, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var users map[string]string
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// isAuthorized returns true if the user has privileges for the HTTP method.  With no
// authorization list, every user is authorized.
func isAuthorized(users map[string]string, user string, httpMethod string) bool {
	if users == nil {
		return true
	}
	method := strings.ToLower(httpMethod)
	readReq := method == "get" || method == "head"
	priv, found := users[user]
	if !found {
		priv, found = users["*"]
		if !found {
			return false
		}
	}
	switch priv {
	case "readwrite":
		return true
	case "read":
		return readReq
	case "write":
		return !readReq
	default:
		horta.Errorf("Authorized user %q has unparsable privilege %q\n", user, priv)
		return false
	}
}

// authMiddleware validates a JWT and sets the c.Env["user"] field to the
// authenticated user.
func (s *Server) authMiddleware(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		reqToken := r.Header.Get("Authorization")
		if len(reqToken) == 0 {
			Unauthorized(w, r, "JWT required via Authorization in request header")
			return
		}
		splitToken := strings.Split(reqToken, "Bearer")
		if len(splitToken) != 2 {
			Unauthorized(w, r, "bearer not in proper format")
			return
		}
		reqToken = strings.TrimSpace(splitToken[1])
		if len(reqToken) == 0 {
			Unauthorized(w, r, "requests require JWT authentication")
			return
		}
		token, err := jwt.Parse(reqToken, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("error signing method: %v", token.Header["alg"])
			}
			return []byte(s.config.Auth.SecretKey), nil
		})
		if err != nil {
			Unauthorized(w, r, "error parsing JWT: %v", err)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			Unauthorized(w, r, "failed authorization")
			return
		}
		user, ok := claims["user"].(string)
		if !ok {
			Unauthorized(w, r, "user %v is not a simple string", claims["user"])
			return
		}
		if !isAuthorized(s.users, user, r.Method) {
			Unauthorized(w, r, "user %q is not authorized", user)
			return
		}
		if c.Env == nil {
			c.Env = make(map[interface{}]interface{})
		}
		c.Env["user"] = user
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
