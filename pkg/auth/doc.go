// Package auth issues session tokens and authenticates users.
//
// Accounts are created with an email and a bcrypt-hashed password, or on
// first login through an OpenID Connect provider. Either way the caller
// receives an HS256 JWT that the API middleware validates on every request
// and turns into an AuthContext.
//
//	jwt := auth.NewJWTManager(secret, 24*time.Hour)
//	user, err := auth.NewPasswordAuthenticator(repo).Authenticate(ctx, email, password)
//	token, err := jwt.Generate(user)
package auth
