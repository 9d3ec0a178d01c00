// routes.go
package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"barwatch/internal/bars"
	"barwatch/internal/query"
	"barwatch/internal/topics"
)

// registerRoutes wires the read/control API described in the external
// interfaces table. Routing/serialization is intentionally thin: every
// handler just adapts echo's request/response to a Service call.
func registerRoutes(e *echo.Echo, svc *query.Service) {
	e.GET("/health", healthHandler(svc))
	e.GET("/resolutions", resolutionsHandler(svc))

	e.GET("/topics", listTopicsHandler(svc))
	e.POST("/topics", createTopicHandler(svc))
	e.GET("/topics/:id", getTopicHandler(svc))
	e.DELETE("/topics/:id", deleteTopicHandler(svc))
	e.POST("/topics/:id/pause", pauseTopicHandler(svc))
	e.POST("/topics/:id/resume", resumeTopicHandler(svc))
	e.PATCH("/topics/:id/resolution", patchResolutionHandler(svc))
	e.GET("/topics/:id/bars", getBarsHandler(svc))
	e.GET("/topics/:id/bars/latest", getLatestBarHandler(svc))
	e.POST("/topics/:id/poll", pollTopicHandler(svc))
	e.POST("/topics/:id/digest", digestHandler(svc))
}

func healthHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, svc.Health())
	}
}

func resolutionsHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, svc.Resolutions())
	}
}

type createTopicRequest struct {
	Label      string `json:"label"`
	Query      string `json:"query"`
	Resolution string `json:"resolution"`
}

func createTopicHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTopicRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err))
		}
		topic, err := svc.Registry().Add(req.Label, req.Query, req.Resolution)
		if err != nil {
			return topicError(c, err)
		}
		return c.JSON(http.StatusCreated, topic)
	}
}

func listTopicsHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, svc.Registry().List())
	}
}

func getTopicHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		topic, err := svc.Registry().Get(c.Param("id"))
		if err != nil {
			return topicError(c, err)
		}
		return c.JSON(http.StatusOK, topic)
	}
}

func deleteTopicHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.RemoveTopic(c.Param("id")); err != nil {
			return topicError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func pauseTopicHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.Registry().Pause(c.Param("id")); err != nil {
			return topicError(c, err)
		}
		return c.NoContent(http.StatusOK)
	}
}

func resumeTopicHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.Registry().Resume(c.Param("id")); err != nil {
			return topicError(c, err)
		}
		return c.NoContent(http.StatusOK)
	}
}

type patchResolutionRequest struct {
	Resolution string `json:"resolution"`
}

func patchResolutionHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req patchResolutionRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody(err))
		}
		if _, ok := bars.LookupResolution(req.Resolution); !ok {
			return c.JSON(http.StatusBadRequest, errorBody(topics.ErrInvalidArgument))
		}
		topic, err := svc.SetResolution(c.Param("id"), req.Resolution)
		if err != nil {
			return topicError(c, err)
		}
		return c.JSON(http.StatusOK, topic)
	}
}

func getBarsHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		resolution := c.QueryParam("resolution")
		limit := queryInt(c, "limit", 50)
		withSummaries := c.QueryParam("with_summaries") != "false"

		got, err := svc.GetBars(c.Request().Context(), c.Param("id"), resolution, limit, withSummaries)
		if err != nil {
			return topicError(c, err)
		}
		return c.JSON(http.StatusOK, got)
	}
}

func getLatestBarHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		bar, ok, err := svc.GetLatestBar(c.Request().Context(), c.Param("id"), c.QueryParam("resolution"))
		if err != nil {
			return topicError(c, err)
		}
		if !ok {
			return c.JSON(http.StatusOK, nil)
		}
		return c.JSON(http.StatusOK, bar)
	}
}

func pollTopicHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := svc.TriggerPoll(c.Request().Context(), c.Param("id"))
		if err != nil {
			return topicError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}
}

func digestHandler(svc *query.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		lookback := queryInt(c, "lookback_bars", 12)
		result, err := svc.CreateDigest(c.Request().Context(), c.Param("id"), lookback)
		if err != nil {
			if isTopicError(err) {
				return topicError(c, err)
			}
			return c.JSON(http.StatusInternalServerError, errorBody(err))
		}
		return c.JSON(http.StatusOK, result)
	}
}

func queryInt(c echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func isTopicError(err error) bool {
	return errors.Is(err, topics.ErrNotFound)
}

func topicError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, topics.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err))
	case errors.Is(err, topics.ErrConflict):
		return c.JSON(http.StatusConflict, errorBody(err))
	case errors.Is(err, topics.ErrInvalidArgument):
		return c.JSON(http.StatusBadRequest, errorBody(err))
	default:
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}
}
