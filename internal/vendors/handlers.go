package vendors

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for vendor profiles
type Handler struct {
	engine *Engine
	store  Store
}

// NewHandler creates a new vendor handler
func NewHandler(engine *Engine, store Store) *Handler {
	return &Handler{engine: engine, store: store}
}

// RegisterRoutes sets up vendor endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/vendors", h.ListVendors)
	r.GET("/vendors/:id", h.GetVendor)
	r.GET("/vendors/:id/trust", h.GetVendorTrust)
	r.GET("/vendors/:id/anomalies", h.ListVendorAnomalies)
	r.GET("/industry/prices", h.GetIndustryPrices)
}

// ListVendors returns vendor profiles, most recently updated first
func (h *Handler) ListVendors(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var (
		profiles []*Profile
		err      error
	)
	if category := c.Query("category"); category != "" {
		profiles, err = h.store.ListByCategory(c.Request.Context(), category)
	} else {
		profiles, err = h.store.List(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list vendor profiles",
		})
		return
	}

	count, _ := h.store.Count(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"vendors": profiles,
		"total":   count,
	})
}

// GetVendor returns a single vendor profile
func (h *Handler) GetVendor(c *gin.Context) {
	profile, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err == ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "vendor_not_found",
			"message": "No vendor profile with that id",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load vendor profile",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendor": profile})
}

// GetVendorTrust returns the trust analysis for a vendor
func (h *Handler) GetVendorTrust(c *gin.Context) {
	profile, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err == ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "vendor_not_found",
			"message": "No vendor profile with that id",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load vendor profile",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vendorId":     profile.ID,
		"invoiceCount": profile.InvoiceCount,
		"trust":        h.engine.AnalyzeTrust(profile),
		"metrics":      profile.Trust,
	})
}

// ListVendorAnomalies returns the anomaly records on a vendor profile
func (h *Handler) ListVendorAnomalies(c *gin.Context) {
	profile, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err == ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "vendor_not_found",
			"message": "No vendor profile with that id",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "Failed to load vendor profile",
		})
		return
	}

	anomalies := profile.Trust.Anomalies
	if c.Query("unresolved") == "true" {
		filtered := make([]AnomalyRecord, 0, len(anomalies))
		for _, a := range anomalies {
			if !a.Resolved {
				filtered = append(filtered, a)
			}
		}
		anomalies = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"vendorId":  profile.ID,
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

// GetIndustryPrices returns the sample-size-weighted industry-wide
// price buckets per category
func (h *Handler) GetIndustryPrices(c *gin.Context) {
	industry, err := h.store.AggregateIndustryPriceRanges(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "aggregation_failed",
			"message": "Failed to aggregate industry price ranges",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"categories": industry,
		"count":      len(industry),
	})
}
