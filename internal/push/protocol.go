package push

// Event is the wire frame for both directions of the push channel.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Client-originated events.
const (
	EventAuthenticate      = "authenticate"
	EventJoinOrderRoom     = "join_order_room"
	EventUpdateLocation    = "update_location"
	EventSetAvailability   = "set_availability"
	EventRespondToOrder    = "respond_to_order"
	EventOrderStatusUpdate = "order_status_update"
)

// Server-originated events.
const (
	EventAuthenticated       = "authenticated"
	EventAuthError           = "authentication_error"
	EventRoomJoined          = "room_joined"
	EventLocationUpdated     = "location_updated"
	EventLocationError       = "location_error"
	EventAvailabilityUpdated = "availability_updated"
	EventAvailabilityError   = "availability_error"
	EventDeliveryRequest     = "delivery_request"
	EventOrderResponseAck    = "order_response_received"
	EventOrderStatusUpdated  = "order_status_updated"
	EventDriverArrivedPickup = "driver_arrived_pickup"
	EventPickupVerified      = "pickup_verified"
	EventDeliveryCompleted   = "delivery_completed"
	EventDriverLocation      = "driver_location_updated"
	EventDriverStatusChanged = "driver_status_changed"
	EventAutoOffline         = "auto_offline"
	EventForcedOffline       = "forced_offline"
	EventNoDriversAvailable  = "no_drivers_available"
)

// Room names. Partners, order watchers, and the admin console each get
// their own fan-out topic.
const AdminRoom = "admin"

func PartnerRoom(partnerID string) string { return "partner_" + partnerID }
func OrderRoom(orderID string) string     { return "order_" + orderID }
