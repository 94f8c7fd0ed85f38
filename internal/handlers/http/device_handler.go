package http

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/pkg/errors"
	"sidescreen/pkg/validation"
)

// DeviceController is the slice of the connection coordinator the API drives.
type DeviceController interface {
	ports.DeviceService
	DeviceDirectory
	Host() domain.HostIdentity
}

// PairingEndpoint is advertised in the pairing QR code so network devices
// know where to dial in.
type PairingEndpoint struct {
	Address    string
	ListenPath string
}

type DeviceHandler struct {
	devices  DeviceController
	endpoint PairingEndpoint
}

func NewDeviceHandler(devices DeviceController, endpoint PairingEndpoint) *DeviceHandler {
	return &DeviceHandler{devices: devices, endpoint: endpoint}
}

func (h *DeviceHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/devices", h.ListDevices)
	api.GET("/devices/:id", h.GetDevice)
	api.POST("/devices/:id/connect", h.ConnectDevice)
	api.POST("/devices/:id/pair", h.PairDevice)
	api.POST("/devices/:id/disconnect", h.DisconnectDevice)
	api.DELETE("/devices/:id/trust", h.ForgetDevice)
	api.GET("/pairing/qr", h.PairingQR)
}

// ConnectDeviceRequest describes a device the host has not discovered yet.
// An empty body connects a device already reported by discovery.
type ConnectDeviceRequest struct {
	Name      string   `json:"name"`
	Transport string   `json:"transport"`
	Address   string   `json:"address"`
	Touch     bool     `json:"touch"`
	Codecs    []string `json:"codecs"`
}

func (h *DeviceHandler) ListDevices(c *gin.Context) {
	statuses := h.devices.ListDevices()
	views := make([]deviceView, 0, len(statuses))
	for _, s := range statuses {
		views = append(views, newDeviceView(s))
	}
	c.JSON(http.StatusOK, gin.H{"devices": views})
}

func (h *DeviceHandler) GetDevice(c *gin.Context) {
	id, ok := deviceParam(c)
	if !ok {
		return
	}
	status, found := h.devices.Device(id)
	if !found {
		c.Error(errors.NewNotFoundError("device"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": newDeviceView(status)})
}

func (h *DeviceHandler) ConnectDevice(c *gin.Context) {
	id, ok := deviceParam(c)
	if !ok {
		return
	}

	var req ConnectDeviceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}

	var device domain.Device
	if req.Transport == "" {
		known, found := h.devices.Known(id)
		if !found {
			c.Error(errors.NewNotFoundError("device"))
			return
		}
		device = known
	} else {
		d, err := deviceFromRequest(id, req)
		if err != nil {
			c.Error(err)
			return
		}
		device = d
	}

	if err := h.devices.Connect(c.Request.Context(), device); err != nil {
		c.Error(err)
		return
	}
	status, _ := h.devices.Device(id)
	c.JSON(http.StatusOK, gin.H{"device": newDeviceView(status)})
}

func deviceFromRequest(id domain.DeviceID, req ConnectDeviceRequest) (domain.Device, error) {
	if err := validation.ValidateTransport(req.Transport); err != nil {
		return domain.Device{}, errors.NewInvalidInputError(err.Error())
	}
	// USB bridges may be unix sockets, so only network addresses are checked.
	if req.Transport == string(domain.TransportNetwork) {
		if err := validation.ValidateAddress(req.Address); err != nil {
			return domain.Device{}, errors.NewInvalidInputError(err.Error())
		}
	} else if req.Address == "" {
		return domain.Device{}, errors.NewInvalidInputError("address is required")
	}
	name := req.Name
	if name == "" {
		name = string(id)
	}
	if err := validation.ValidateDeviceName(name); err != nil {
		return domain.Device{}, errors.NewInvalidInputError(err.Error())
	}
	return domain.Device{
		ID:        id,
		Name:      name,
		Transport: domain.TransportKind(req.Transport),
		Address:   req.Address,
		Capabilities: domain.DeviceCapabilities{
			Touch:  req.Touch,
			Codecs: req.Codecs,
		},
	}, nil
}

// PairDevice blocks until the device answers or pairing times out.
func (h *DeviceHandler) PairDevice(c *gin.Context) {
	id, ok := deviceParam(c)
	if !ok {
		return
	}
	if err := h.devices.Pair(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	status, _ := h.devices.Device(id)
	c.JSON(http.StatusOK, gin.H{"device": newDeviceView(status)})
}

func (h *DeviceHandler) DisconnectDevice(c *gin.Context) {
	id, ok := deviceParam(c)
	if !ok {
		return
	}
	if _, found := h.devices.Device(id); !found {
		c.Error(errors.NewNotFoundError("device"))
		return
	}
	h.devices.Disconnect(id)
	c.JSON(http.StatusOK, gin.H{"device_id": id, "status": "disconnected"})
}

func (h *DeviceHandler) ForgetDevice(c *gin.Context) {
	id, ok := deviceParam(c)
	if !ok {
		return
	}
	if err := h.devices.ForgetDevice(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PairingQR renders a PNG a tablet app can scan to find this host.
func (h *DeviceHandler) PairingQR(c *gin.Context) {
	png, err := qrcode.Encode(h.pairingURI(), qrcode.Medium, 256)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to render pairing code"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *DeviceHandler) pairingURI() string {
	host := h.devices.Host()
	q := url.Values{}
	q.Set("host", host.ID)
	q.Set("name", host.Name)
	q.Set("addr", h.endpoint.Address)
	q.Set("path", h.endpoint.ListenPath)
	return (&url.URL{Scheme: "sidescreen", Host: "pair", RawQuery: q.Encode()}).String()
}

func deviceParam(c *gin.Context) (domain.DeviceID, bool) {
	id := c.Param("id")
	if err := validation.ValidateDeviceID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.DeviceID(id), true
}
