package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps config names to CDP resource types.
var resourceTypes = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// blockResources fails requests of the named types. Scripts and XHR are
// never blocked: retailer pages render their cart buttons client side.
func blockResources(page *rod.Page, names []string) (*rod.HijackRouter, error) {
	blocked := make(map[proto.NetworkResourceType]bool, len(names))
	for _, n := range names {
		if t, ok := resourceTypes[strings.ToLower(n)]; ok {
			blocked[t] = true
		}
	}
	if len(blocked) == 0 {
		return nil, nil
	}

	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}
