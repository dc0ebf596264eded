package api

import (
	"errors"
	"io"
	"strconv"

	"github.com/blnkfinance/payline/api/middleware"
	"github.com/blnkfinance/payline/internal/apierror"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError writes err with the status its code maps to. Errors without
// a code are logged and hidden behind a generic message.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	apiErr, ok := apierror.As(err)
	if !ok {
		logrus.WithFields(logrus.Fields{"path": c.FullPath(), "method": c.Request.Method}).Errorf("unhandled error: %v", err)
		apiErr = apierror.APIError{Code: apierror.ErrInternalServer, Message: "Internal server error"}
	}
	c.JSON(status, apierror.APIError{Code: apiErr.Code, Message: apiErr.Message})
}

func badRequest(c *gin.Context, err error) {
	respondError(c, apierror.APIError{Code: apierror.ErrInvalidInput, Message: err.Error()})
}

// bindJSON decodes the body into dst. An empty body is accepted when optional is set.
func bindJSON(c *gin.Context, dst interface{}, optional bool) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		badRequest(c, err)
		return false
	}
	return true
}

func principal(c *gin.Context) middleware.Principal {
	p, _ := middleware.PrincipalFrom(c)
	return p
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
