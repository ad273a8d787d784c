// internal/api/v2/detections.go
package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/leafguard-go/internal/artifact"
	"github.com/tphakala/leafguard-go/internal/datastore"
	"github.com/tphakala/leafguard-go/internal/detection"
	"github.com/tphakala/leafguard-go/internal/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	signedURLTTL = 15 * time.Minute
)

// DiseaseResponse is one disease finding on a detection.
type DiseaseResponse struct {
	Name            string             `json:"name"`
	Confidence      float64            `json:"confidence"`
	AffectedRegions []datastore.Region `json:"affectedRegions,omitempty"`
	Treatments      []string           `json:"treatments"`
}

// LocationResponse is the optional capture location of a detection.
type LocationResponse struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DetectionResponse is the API view of a detection row.
type DetectionResponse struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	ConfidenceScore *float64          `json:"confidenceScore,omitempty"`
	Location        *LocationResponse `json:"location,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	ProcessedAt     *time.Time        `json:"processedAt,omitempty"`
	Diseases        []DiseaseResponse `json:"diseases"`
}

// DetectionListResponse is the paginated detection history.
type DetectionListResponse struct {
	Detections []DetectionResponse `json:"detections"`
	Total      int64               `json:"total"`
	Page       int                 `json:"page"`
	Limit      int                 `json:"limit"`
	TotalPages int                 `json:"totalPages"`
}

// initDetectionRoutes registers the detection lifecycle endpoints.
func (c *Controller) initDetectionRoutes() {
	c.Group.POST("/detections", c.UploadDetection)
	c.Group.GET("/detections", c.ListDetections)
	c.Group.GET("/detections/:id", c.GetDetection)
	c.Group.POST("/detections/:id/process", c.ProcessDetection)
	c.Group.DELETE("/detections/:id", c.DeleteDetection)
	c.Group.GET("/detections/:id/image", c.GetDetectionImage)
}

func toDetectionResponse(d *datastore.Detection) DetectionResponse {
	resp := DetectionResponse{
		ID:              d.ID,
		Status:          d.Status,
		ConfidenceScore: d.ConfidenceScore,
		CreatedAt:       d.CreatedAt,
		ProcessedAt:     d.ProcessedAt,
		Diseases:        make([]DiseaseResponse, 0, len(d.Diseases)),
	}
	if d.LocationLat != nil && d.LocationLng != nil {
		resp.Location = &LocationResponse{Lat: *d.LocationLat, Lng: *d.LocationLng}
	}
	for i := range d.Diseases {
		dis := &d.Diseases[i]
		resp.Diseases = append(resp.Diseases, DiseaseResponse{
			Name:            dis.DiseaseName,
			Confidence:      dis.Confidence,
			AffectedRegions: dis.AffectedRegions,
			Treatments:      dis.Treatments,
		})
	}
	return resp
}

// UploadDetection accepts a multipart leaf image, derives the stored variants
// and creates a pending detection. The response carries the new id; analysis
// runs later through the process endpoint.
func (c *Controller) UploadDetection(ctx echo.Context) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Missing owner identity", http.StatusBadRequest)
	}

	file, err := ctx.FormFile("image")
	if err != nil {
		c.metrics.RecordUpload("rejected")
		return c.HandleError(ctx, err, "Missing image file in upload", http.StatusBadRequest)
	}

	contentType := file.Header.Get("Content-Type")
	if err := c.validator.Validate(contentType, file.Size); err != nil {
		c.metrics.RecordUpload("rejected")
		return c.HandleError(ctx, err, "Upload rejected", http.StatusBadRequest)
	}

	lat, lng, err := parseLocation(ctx.FormValue("lat"), ctx.FormValue("lng"))
	if err != nil {
		c.metrics.RecordUpload("rejected")
		return c.HandleError(ctx, err, "Invalid location", http.StatusBadRequest)
	}

	src, err := file.Open()
	if err != nil {
		c.metrics.RecordUpload("failed")
		return c.HandleError(ctx, err, "Failed to read upload", http.StatusInternalServerError)
	}
	defer func() { _ = src.Close() }()

	data, err := io.ReadAll(src)
	if err != nil {
		c.metrics.RecordUpload("failed")
		return c.HandleError(ctx, err, "Failed to read upload", http.StatusInternalServerError)
	}

	reqCtx := ctx.Request().Context()
	id := detection.NewID()

	start := time.Now()
	refs, err := c.deriver.Derive(reqCtx, ownerID, id, data, contentType)
	c.metrics.ObserveDerivation(time.Since(start).Seconds())
	if err != nil {
		if errors.HasCategory(err, errors.CategoryImageProcessing) {
			// Accepted content type but undecodable payload.
			c.metrics.RecordUpload("rejected")
			return c.HandleError(ctx, err, "Image could not be decoded", http.StatusBadRequest)
		}
		c.metrics.RecordUpload("failed")
		return c.HandleServiceError(ctx, err, "Failed to store image")
	}

	created, err := c.Manager.Create(reqCtx, id, ownerID, refs.Original, lat, lng)
	if err != nil {
		// Derived variants must not outlive a failed row insert.
		if cleanupErr := artifact.DeleteAll(reqCtx, c.Store, ownerID, id); cleanupErr != nil {
			c.logger.Printf("Failed to clean up artifacts for detection %s: %v", id, cleanupErr)
		}
		c.metrics.RecordUpload("failed")
		return c.HandleServiceError(ctx, err, "Failed to create detection")
	}

	c.metrics.RecordUpload("accepted")
	return ctx.JSON(http.StatusCreated, map[string]string{
		"detectionId": created.ID,
		"status":      created.Status,
	})
}

// GetDetection returns one detection with its nested diseases.
func (c *Controller) GetDetection(ctx echo.Context) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Missing owner identity", http.StatusBadRequest)
	}

	d, err := c.DS.GetDetection(ctx.Request().Context(), ctx.Param("id"), ownerID)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Detection not found")
	}
	return ctx.JSON(http.StatusOK, toDetectionResponse(&d))
}

// ListDetections returns the caller's detection history, newest first.
func (c *Controller) ListDetections(ctx echo.Context) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Missing owner identity", http.StatusBadRequest)
	}

	filter, page, err := parseListQuery(ctx, ownerID)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query parameters", http.StatusBadRequest)
	}

	detections, total, err := c.DS.ListDetections(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Failed to list detections")
	}

	resp := DetectionListResponse{
		Detections: make([]DetectionResponse, 0, len(detections)),
		Total:      total,
		Page:       page,
		Limit:      filter.Limit,
		TotalPages: int((total + int64(filter.Limit) - 1) / int64(filter.Limit)),
	}
	for i := range detections {
		resp.Detections = append(resp.Detections, toDetectionResponse(&detections[i]))
	}
	return ctx.JSON(http.StatusOK, resp)
}

// ProcessDetection runs the analysis lifecycle for a pending detection and
// returns the terminal outcome.
func (c *Controller) ProcessDetection(ctx echo.Context) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Missing owner identity", http.StatusBadRequest)
	}

	result, err := c.Manager.Process(ctx.Request().Context(), ctx.Param("id"), ownerID)
	if err != nil {
		// A failed detection is still a terminal outcome worth returning,
		// but the caller learns what went wrong through the status code.
		return c.HandleServiceError(ctx, err, "Detection processing failed")
	}
	return ctx.JSON(http.StatusOK, toDetectionResponse(&result))
}

// DeleteDetection removes the detection row, its diseases and every stored
// image variant.
func (c *Controller) DeleteDetection(ctx echo.Context) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Missing owner identity", http.StatusBadRequest)
	}

	id := ctx.Param("id")
	reqCtx := ctx.Request().Context()

	if err := c.DS.DeleteDetection(reqCtx, id, ownerID); err != nil {
		return c.HandleServiceError(ctx, err, "Failed to delete detection")
	}
	if err := artifact.DeleteAll(reqCtx, c.Store, ownerID, id); err != nil {
		// The row is gone; orphaned artifacts are logged, not surfaced.
		c.logger.Printf("Failed to delete artifacts for detection %s: %v", id, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// GetDetectionImage returns a temporary access URL for one stored variant of
// the detection image.
func (c *Controller) GetDetectionImage(ctx echo.Context) error {
	ownerID, err := owner(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Missing owner identity", http.StatusBadRequest)
	}

	id := ctx.Param("id")
	variant := artifact.Variant(ctx.QueryParam("variant"))
	if variant == "" {
		variant = artifact.VariantOriginal
	}
	if variant != artifact.VariantOriginal && variant != artifact.VariantProcessed && variant != artifact.VariantThumbnail {
		return c.HandleError(ctx, nil, "Unknown image variant", http.StatusBadRequest)
	}

	reqCtx := ctx.Request().Context()
	d, err := c.DS.GetDetection(reqCtx, id, ownerID)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Detection not found")
	}

	// Derived variants are always JPEG; the original keeps its upload format
	// and its exact key is stored on the row.
	ref := d.OriginalArtifactRef
	if variant != artifact.VariantOriginal {
		ref = artifact.ObjectKey(ownerID, id, variant, "jpg")
	}

	url, err := c.Store.SignedURL(reqCtx, ref, signedURLTTL)
	if err != nil {
		return c.HandleServiceError(ctx, err, "Image variant not available")
	}
	return ctx.JSON(http.StatusOK, map[string]string{
		"variant": string(variant),
		"url":     url,
	})
}

// parseLocation validates the optional lat/lng form values. Both must be
// present together.
func parseLocation(latStr, lngStr string) (lat, lng *float64, err error) {
	if latStr == "" && lngStr == "" {
		return nil, nil, nil
	}
	if latStr == "" || lngStr == "" {
		return nil, nil, locationError("both lat and lng are required")
	}

	latVal, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, nil, locationError("lat is not a number")
	}
	lngVal, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return nil, nil, locationError("lng is not a number")
	}
	if latVal < -90 || latVal > 90 {
		return nil, nil, locationError("lat out of range")
	}
	if lngVal < -180 || lngVal > 180 {
		return nil, nil, locationError("lng out of range")
	}
	return &latVal, &lngVal, nil
}

func locationError(msg string) error {
	return errors.Newf("%s", msg).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// parseListQuery builds the datastore filter from the request query.
func parseListQuery(ctx echo.Context, ownerID string) (datastore.DetectionFilter, int, error) {
	filter := datastore.DetectionFilter{Owner: ownerID, Limit: defaultListLimit}

	if status := ctx.QueryParam("status"); status != "" {
		switch status {
		case datastore.StatusPending, datastore.StatusProcessing, datastore.StatusCompleted, datastore.StatusFailed:
			filter.Status = status
		default:
			return filter, 0, errors.Newf("unknown status %q", status).
				Component("api").
				Category(errors.CategoryValidation).
				Build()
		}
	}

	if from := ctx.QueryParam("dateFrom"); from != "" {
		t, err := parseDate(from)
		if err != nil {
			return filter, 0, err
		}
		filter.DateFrom = &t
	}
	if to := ctx.QueryParam("dateTo"); to != "" {
		t, err := parseDate(to)
		if err != nil {
			return filter, 0, err
		}
		filter.DateTo = &t
	}

	if limitStr := ctx.QueryParam("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return filter, 0, errors.Newf("invalid limit %q", limitStr).
				Component("api").
				Category(errors.CategoryValidation).
				Build()
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}

	page := 1
	if pageStr := ctx.QueryParam("page"); pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p < 1 {
			return filter, 0, errors.Newf("invalid page %q", pageStr).
				Component("api").
				Category(errors.CategoryValidation).
				Build()
		}
		page = p
	}
	filter.Offset = (page - 1) * filter.Limit

	return filter, page, nil
}

// parseDate accepts RFC3339 timestamps or plain dates.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Time{}, errors.Newf("invalid date %q, expected RFC3339 or YYYY-MM-DD", value).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}
