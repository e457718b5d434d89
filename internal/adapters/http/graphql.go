package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	cropClassType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CropClass",
		Fields: graphql.Fields{
			"index":               &graphql.Field{Type: graphql.Int},
			"name":                &graphql.Field{Type: graphql.String},
			"reference_height_mm": &graphql.Field{Type: graphql.Float},
		},
	})

	cropLocationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CropLocation",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"survey_id":  &graphql.Field{Type: graphql.String},
			"image":      &graphql.Field{Type: graphql.String},
			"crop":       &graphql.Field{Type: graphql.String},
			"location":   &graphql.Field{Type: geoPointType},
			"camera":     &graphql.Field{Type: geoPointType},
			"distance_m": &graphql.Field{Type: graphql.Float},
			"heading":    &graphql.Field{Type: graphql.Float},
		},
	})

	cropDistanceType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CropDistance",
		Fields: graphql.Fields{
			"crop":       &graphql.Field{Type: graphql.String},
			"distance_m": &graphql.Field{Type: graphql.Float},
			"count":      &graphql.Field{Type: graphql.Int},
		},
	})

	observationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Observation",
		Fields: graphql.Fields{
			"name":  &graphql.Field{Type: graphql.String},
			"coord": &graphql.Field{Type: geoPointType},
			"capture_time": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*domain.Observation).CaptureTime.Format(time.RFC3339), nil
				},
			},
			"bearing": &graphql.Field{
				Type: graphql.Float,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if b := p.Source.(*domain.Observation).Bearing; b != nil {
						return *b, nil
					}
					return nil, nil
				},
			},
			"neighbor": &graphql.Field{Type: graphql.String},
			"crops_found": &graphql.Field{
				Type: graphql.Boolean,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source.(*domain.Observation).CropsFound(), nil
				},
			},
			"distances": &graphql.Field{
				Type: graphql.NewList(cropDistanceType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					o := p.Source.(*domain.Observation)
					out := make([]map[string]interface{}, 0, len(o.Distances))
					for _, loc := range o.CropLocations() {
						out = append(out, map[string]interface{}{
							"crop":       loc.Crop,
							"distance_m": loc.DistanceMeters,
							"count":      o.CropCount[loc.Crop],
						})
					}
					return out, nil
				},
			},
		},
	})

	surveyType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Survey",
		Fields: graphql.Fields{
			"survey_id":      &graphql.Field{Type: graphql.String},
			"crops_found":    &graphql.Field{Type: graphql.Boolean},
			"observations":   &graphql.Field{Type: graphql.NewList(observationType)},
			"crop_locations": &graphql.Field{Type: graphql.NewList(cropLocationType)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"cropClasses": &graphql.Field{
				Type:        graphql.NewList(cropClassType),
				Description: "The crop taxonomy in detector index order",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Crops.Classes(), nil
				},
			},
			"survey": &graphql.Field{
				Type:        surveyType,
				Description: "Stored observations and crop locations of a survey",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Surveys.Get(p.Context, p.Args["id"].(string))
				},
			},
			"cropsNearby": &graphql.Field{
				Type:        graphql.NewList(cropLocationType),
				Description: "Crop locations near a point",
				Args: graphql.FieldConfigArgument{
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 1000.0},
					"crop":   &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 100},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Crops.FindNearby(p.Context,
						p.Args["lat"].(float64),
						p.Args["lon"].(float64),
						p.Args["radius"].(float64),
						p.Args["crop"].(string),
						p.Args["limit"].(int),
					)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
