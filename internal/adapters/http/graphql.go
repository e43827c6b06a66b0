package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/nearby/internal/core/domain"
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

	rotationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Rotation",
		Fields: graphql.Fields{
			"degrees": &graphql.Field{Type: graphql.Float},
		},
	})

	categoryEnum := graphql.NewEnum(graphql.EnumConfig{
		Name: "Category",
		Values: graphql.EnumValueConfigMap{
			"bus":        &graphql.EnumValueConfig{Value: string(domain.CategoryBus)},
			"subway":     &graphql.EnumValueConfig{Value: string(domain.CategorySubway)},
			"bike":       &graphql.EnumValueConfig{Value: string(domain.CategoryBike)},
			"route_stop": &graphql.EnumValueConfig{Value: string(domain.CategoryRouteStop)},
		},
	})

	poiType := graphql.NewObject(graphql.ObjectConfig{
		Name: "POI",
		Fields: graphql.Fields{
			"id":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"name": &graphql.Field{Type: graphql.String},
			"category": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return string(poiSource(p).Category), nil
				},
			},
			"location":       &graphql.Field{Type: geoPointType},
			"distance":       &graphql.Field{Type: graphql.Float},
			"distance_label": &graphql.Field{Type: graphql.String},
			"rotation":       &graphql.Field{Type: rotationType},
			"is_favorite":    &graphql.Field{Type: graphql.Boolean},
		},
	})

	resultType := graphql.NewObject(graphql.ObjectConfig{
		Name: "NearbyResult",
		Fields: graphql.Fields{
			"state":      &graphql.Field{Type: graphql.String},
			"closest_id": &graphql.Field{Type: graphql.String},
			"pois":       &graphql.Field{Type: graphql.NewList(poiType)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"nearby": &graphql.Field{
				Type:        resultType,
				Description: "Ranked points of interest around a location",
				Args: graphql.FieldConfigArgument{
					"lat":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"category": &graphql.ArgumentConfig{Type: graphql.NewNonNull(categoryEnum)},
					"scope":    &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"limit":    &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					lat := p.Args["lat"].(float64)
					lon := p.Args["lon"].(float64)
					category := domain.Category(p.Args["category"].(string))
					scope, _ := p.Args["scope"].(string)
					limit, _ := p.Args["limit"].(int)

					res, err := deps.Nearby.Nearby(p.Context, lat, lon, category, scope, limit)
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"state":      res.State.String(),
						"closest_id": res.ClosestID,
						"pois":       res.POIs,
					}, nil
				},
			},
			"poi": &graphql.Field{
				Type:        poiType,
				Description: "Get a point of interest by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.POIs.GetByID(p.Context, p.Args["id"].(string))
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

func poiSource(p graphql.ResolveParams) domain.POI {
	switch v := p.Source.(type) {
	case domain.POI:
		return v
	case *domain.POI:
		if v != nil {
			return *v
		}
	}
	return domain.POI{}
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// programming error in the schema definition
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
