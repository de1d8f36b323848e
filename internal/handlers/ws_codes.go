// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the battle channel.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidBattleIDError  = 3003 // Battle disappeared or could not be loaded after the upgrade.
)
