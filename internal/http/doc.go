// Package httpapp provides the HTTP server for Echoboard.
//
//	@title						Echoboard API
//	@version					1.0
//	@description				A feedback board platform with wallet-signature authentication.
//	@description
//	@description				## Authentication
//	@description
//	@description				Sign a message with your wallet and exchange the signature for a bearer token:
//	@description				```bash
//	@description				curl -X POST /api/auth/authenticate -d '{
//	@description				  "signedMessage": "Sign in to Echoboard",
//	@description				  "signature": "0x..."
//	@description				}'
//	@description				# Returns: {"success": true, "walletAddress": "0x...", "accessToken": "TOKEN"}
//	@description				```
//	@description				Accounts are created on first login. A previously issued token can be
//	@description				replayed as `{"accessToken": "TOKEN"}` to re-authenticate.
//	@description
//	@description				## Anonymous sessions
//	@description
//	@description				Posting and commenting work without a token: the server sets an
//	@description				`anonymous_session` cookie and attributes content to a provisional user.
//	@description				When the visitor later authenticates with their wallet, that content is
//	@description				merged into their account and the cookie is cleared.
//
//	@contact.name				Echoboard
//	@license.name				MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token from /api/auth/authenticate
//
//	@tag.name					Auth
//	@tag.description			Wallet-signature authentication. Sign a message, exchange it for a bearer token.
//
//	@tag.name					Boards
//	@tag.description			Feedback boards. Each board has an owner and a public slug.
//
//	@tag.name					Posts
//	@tag.description			Feedback posts with a NEW/PLANNED/IN_PROGRESS/DONE/CLOSED workflow and upvotes.
//
//	@tag.name					Comments
//	@tag.description			Flat discussion on posts.
//
//	@tag.name					Users
//	@tag.description			User records and the admin listing.
package httpapp
