// Package viewstate tracks which overlay a viewer session is showing.
//
// A Controller is owned by one event loop and is not safe for concurrent use.
package viewstate

// State is the overlay currently shown
type State string

const (
	Collapsed   State = "collapsed"
	MiniPopup   State = "mini_popup"
	DetailPanel State = "detail_panel"
)

// Controller holds the overlay state machine. The mini popup and the detail
// panel are mutually exclusive.
type Controller struct {
	state State
}

// NewController returns a controller in the Collapsed state
func NewController() *Controller {
	return &Controller{state: Collapsed}
}

// State returns the current state
func (c *Controller) State() State {
	return c.state
}

// OpenMiniPopup shows the compact popup, replacing the detail panel if open.
// Reports whether the state changed.
func (c *Controller) OpenMiniPopup() bool {
	return c.set(MiniPopup)
}

// ToggleDetail opens the detail panel, or collapses it when already open.
// The panel does not open until dataReady; the state is then unchanged.
func (c *Controller) ToggleDetail(dataReady bool) bool {
	if c.state == DetailPanel {
		return c.set(Collapsed)
	}
	if !dataReady {
		return false
	}
	return c.set(DetailPanel)
}

// Close collapses any open overlay. Closing a collapsed view is a no-op.
func (c *Controller) Close() bool {
	return c.set(Collapsed)
}

// BackgroundClick dismisses overlays the same way Close does
func (c *Controller) BackgroundClick() bool {
	return c.set(Collapsed)
}

func (c *Controller) set(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	return true
}
