package protocol

// Command types the dispatcher routes (spec.md §6).
const (
	CmdAuthenticate       = "cmd_authenticate"
	CmdMove               = "cmd_move"
	CmdAttack             = "cmd_attack"
	CmdChunkRequest       = "cmd_chunk_request"
	CmdMoveInventoryItem  = "cmd_move_inventory_item"
	CmdSortInventory      = "cmd_sort_inventory"
	CmdDropItem           = "cmd_drop_item"
	CmdPickupItem         = "cmd_pickup_item"
	CmdEquipItem          = "cmd_equip_item"
	CmdUnequipItem        = "cmd_unequip_item"
	CmdSendChatMessage    = "cmd_send_chat_message"
)

// Response types.
const (
	RespSuccess = "resp_success"
	RespError   = "resp_error"
)

// Event types the broadcaster emits (spec.md §4.8).
const (
	EventWelcome           = "event_welcome"
	EventStateUpdate       = "event_state_update"
	EventPlayerDied        = "event_player_died"
	EventPlayerRespawn     = "event_player_respawn"
	EventEntityDied        = "event_entity_died"
	EventChunkData         = "event_chunk_data"
	EventChatMessage       = "event_chat_message"
	EventPlayerDisconnect  = "event_player_disconnect"
	EventServerShutdown    = "event_server_shutdown"
	EventInventoryUpdate   = "event_inventory_update"
	EventEquipmentUpdate   = "event_equipment_update"
	EventSkillUpdate       = "event_skill_update"
	EventGroundItemSpawn   = "event_ground_item_spawn"
	EventGroundItemDespawn = "event_ground_item_despawn"
)

// Error reasons (spec.md §6, §7).
const (
	ReasonInvalidDirection = "invalid_direction"
	ReasonRateLimited      = "rate_limited"
	ReasonBlocked          = "blocked"
	ReasonPlayerNotOnline  = "player_not_online"
	ReasonNotFound         = "not_found"
	ReasonDead             = "dead"
	ReasonTooFar           = "too_far"
	ReasonNotImplemented   = "not_implemented"
	ReasonInventoryFull    = "inventory_full"
	ReasonInvalidSlot      = "invalid_slot"
	ReasonUnknownItem      = "unknown_item"
	ReasonNotAuthenticated = "not_authenticated"
	ReasonBanned           = "banned"
	ReasonTimedOut         = "timed_out"
	ReasonInvalidToken     = "invalid_token"
	ReasonInternal         = "internal_error"
)

// Chat channels (spec.md §6). Direct-message channels use the form "dm:<user>".
const (
	ChatChannelGlobal = "global"
	ChatChannelLocal  = "local"
)
