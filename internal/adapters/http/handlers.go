package http

import (
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"
	orbjson "github.com/paulmach/orb/geojson"

	"github.com/nasaharvest/street2sat/internal/adapters/geojson"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
)

const geoJSONContentType = "application/geo+json"

// UploadFormField is the multipart field carrying image files.
const UploadFormField = "images"

// TriangulateUploadHandler runs detection and triangulation on images posted
// as multipart form data. Nothing is stored. ?format=geojson returns a
// FeatureCollection instead of the survey result.
func TriangulateUploadHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		form, err := c.MultipartForm()
		if err != nil {
			return errBadRequest(c, "expected a multipart form with image files")
		}
		files := form.File[UploadFormField]
		if len(files) == 0 {
			return errBadRequest(c, fmt.Sprintf("no files in form field %q", UploadFormField))
		}

		images := make([]usecases.UploadedImage, 0, len(files))
		for _, fh := range files {
			data, err := readFormFile(fh)
			if err != nil {
				return errBadRequest(c, fmt.Sprintf("read %s: %v", fh.Filename, err))
			}
			images = append(images, usecases.UploadedImage{Name: imageName(fh.Filename), Data: data})
		}

		res, err := deps.Surveys.ProcessUploads(c.UserContext(), images)
		if err != nil {
			return errFromUpload(c, err, res)
		}

		if c.Query("format") == "geojson" {
			return c.JSON(geojson.FromObservations(res.Observations), geoJSONContentType)
		}
		return c.JSON(res)
	}
}

// TriangulateSurveyHandler recomputes a stored survey. With ?async=true and a
// workflow engine configured, the run is scheduled and 202 is returned.
func TriangulateSurveyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "survey id is required")
		}
		ctx := c.UserContext()

		if c.QueryBool("async") && deps.Workflows != nil {
			if err := deps.Workflows.StartSurveyTriangulation(ctx, id); err != nil {
				return errInternal(c, err.Error())
			}
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"survey_id": id,
				"status":    "scheduled",
			})
		}

		res, err := deps.Surveys.Triangulate(ctx, id)
		if err != nil {
			return errFromDomain(c, err)
		}
		if err := deps.Surveys.Publish(ctx, id); err != nil {
			LoggerFromCtx(ctx).Warn("crop update not published", "survey", id, "error", err)
		}
		return c.JSON(res)
	}
}

// GetSurveyHandler returns the stored observations and crop locations of a survey.
func GetSurveyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := deps.Surveys.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(res)
	}
}

// SurveyCropsHandler returns a page of a survey's crop locations.
func SurveyCropsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		locs, err := deps.Crops.SurveyLocations(c.UserContext(), c.Params("id"))
		if err != nil {
			return errFromDomain(c, err)
		}

		offset, limit := pageParams(c, 100, 1000)
		page, pg := paginate(locs, offset, limit)
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// SurveyGeoJSONHandler exports a survey's crop locations as GeoJSON points.
func SurveyGeoJSONHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		locs, err := deps.Crops.SurveyLocations(c.UserContext(), id)
		if err != nil {
			return errFromDomain(c, err)
		}
		if len(locs) == 0 {
			return errNotFound(c, "no crop locations for survey "+id)
		}

		fc := geojson.FromLocations(locs)
		if b, ok := geojson.Bounds(fc); ok {
			fc.BBox = orbjson.BBox{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
		}
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="%s.geojson"`, id))
		return c.JSON(fc, geoJSONContentType)
	}
}

// NearbyCropsHandler returns stored crop locations within a radius of a point.
func NearbyCropsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Query("lat") == "" || c.Query("lon") == "" {
			return errBadRequest(c, "lat and lon are required")
		}
		lat := c.QueryFloat("lat", 0)
		lon := c.QueryFloat("lon", 0)
		radius := c.QueryFloat("radius", 1000)
		if radius <= 0 || radius > 50000 {
			return errBadRequest(c, "radius must be between 1 and 50000 meters")
		}

		locs, err := deps.Crops.FindNearby(c.UserContext(), lat, lon, radius, c.Query("crop"), c.QueryInt("limit", 100))
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(locs)
	}
}

// CropClassesHandler lists the crop taxonomy in detector index order.
func CropClassesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version": deps.Crops.TableVersion(),
			"classes": deps.Crops.Classes(),
		})
	}
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// imageName strips directories and the extension from an uploaded file name.
func imageName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
