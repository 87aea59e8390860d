/*
Copyright 2024 SatsQueue Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/satsqueue/satsqueue"
	"github.com/satsqueue/satsqueue/internal/apierror"
)

func toAPIError(err error) apierror.APIError {
	switch {
	case errors.Is(err, satsqueue.ErrNotFound):
		return apierror.NewAPIError(apierror.ErrNotFound, err.Error(), nil)
	case errors.Is(err, satsqueue.ErrAlreadyExists):
		return apierror.NewAPIError(apierror.ErrConflict, err.Error(), nil)
	case errors.Is(err, satsqueue.ErrEmptyQueue):
		return apierror.NewAPIError(apierror.ErrEmptyQueue, err.Error(), nil)
	case errors.Is(err, satsqueue.ErrInvalidAmount):
		return apierror.NewAPIError(apierror.ErrInvalidAmount, err.Error(), nil)
	case errors.Is(err, satsqueue.ErrInvalidInput), errors.Is(err, satsqueue.ErrInvalidPayoutTarget):
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	case errors.Is(err, satsqueue.ErrPaymentSetup):
		return apierror.NewAPIError(apierror.ErrPaymentSetup, err.Error(), err)
	default:
		return apierror.NewAPIError(apierror.ErrInternalServer, "internal server error", err)
	}
}

func respondError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	c.JSON(apierror.MapErrorToHTTPStatus(apiErr), apiErr)
}

func badRequest(c *gin.Context, err error) {
	apiErr := apierror.NewAPIError(apierror.ErrBadRequest, err.Error(), nil)
	c.JSON(apierror.MapErrorToHTTPStatus(apiErr), apiErr)
}
