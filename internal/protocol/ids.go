package protocol

// Serverbound packet ids, scoped per State.
const (
	// Handshake
	ServerboundIntention int32 = 0x00

	// Status
	ServerboundStatusRequest int32 = 0x00
	ServerboundPingRequest   int32 = 0x01

	// Login (and Transfer)
	ServerboundLoginStart          int32 = 0x00
	ServerboundEncryptionResponse  int32 = 0x01
	ServerboundLoginPluginResponse int32 = 0x02
	ServerboundLoginAcknowledged   int32 = 0x03
	ServerboundLoginCookieResponse int32 = 0x04

	// Config
	ServerboundClientInformation    int32 = 0x00
	ServerboundConfigCookieResponse int32 = 0x01
	ServerboundPluginMessage        int32 = 0x02
	ServerboundFinishConfigAck      int32 = 0x03
	ServerboundConfigKeepAlive      int32 = 0x04
	ServerboundConfigPong           int32 = 0x05
	ServerboundResourcePackResult   int32 = 0x06
	ServerboundKnownPacks           int32 = 0x07
)

// Clientbound packet ids, scoped per State.
const (
	// Status
	ClientboundStatusResponse int32 = 0x00
	ClientboundPongResponse   int32 = 0x01

	// Login
	ClientboundLoginDisconnect    int32 = 0x00
	ClientboundEncryptionRequest  int32 = 0x01
	ClientboundLoginSuccess       int32 = 0x02
	ClientboundSetCompression     int32 = 0x03
	ClientboundLoginPluginRequest int32 = 0x04

	// Config
	ClientboundConfigCookieRequest int32 = 0x00
	ClientboundConfigPluginMessage int32 = 0x01
	ClientboundConfigDisconnect    int32 = 0x02
	ClientboundFinishConfig        int32 = 0x03
	ClientboundConfigKeepAlive     int32 = 0x04
	ClientboundConfigPing          int32 = 0x05
	ClientboundResetChat           int32 = 0x06
	ClientboundRegistryData        int32 = 0x07
	ClientboundResourcePackPop     int32 = 0x08
	ClientboundResourcePackPush    int32 = 0x09
	ClientboundStoreCookie         int32 = 0x0A
	ClientboundTransfer            int32 = 0x0B
	ClientboundUpdateTags          int32 = 0x0D
	ClientboundKnownPacks          int32 = 0x0E
	ClientboundServerLinks         int32 = 0x10

	// Play
	ClientboundPlayDisconnect int32 = 0x1C
)
