/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"fmt"
	"io"
	"net/http"

	ghxerrors "github.com/AMD-AIG-AIMA/GHX/pkg/errors"
	"github.com/AMD-AIG-AIMA/GHX/pkg/utils/jsonutil"
)

const DefaultMaxRequestBodyBytes = int64(2 * 1024 * 1024)

// ReadBody reads the request body through a LimitedReader so an oversized
// body cannot exhaust memory. The body is closed after reading.
func ReadBody(req *http.Request) ([]byte, error) {
	defer req.Body.Close()
	lr := &io.LimitedReader{
		R: req.Body,
		N: DefaultMaxRequestBodyBytes + 1,
	}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, ghxerrors.NewInternalError(err.Error())
	}
	if lr.N <= 0 {
		return nil, ghxerrors.NewRequestEntityTooLargeError(
			fmt.Sprintf("the max length is %d bytes", DefaultMaxRequestBodyBytes))
	}
	return data, nil
}

// ParseRequestBody reads the body and unmarshals it into bodyStruct. An
// empty body is not an error; unknown fields are.
func ParseRequestBody(req *http.Request, bodyStruct interface{}) ([]byte, error) {
	body, err := ReadBody(req)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	if err = jsonutil.UnmarshalWithCheck(body, bodyStruct); err != nil {
		return body, ghxerrors.NewBadRequest(err.Error())
	}
	return body, nil
}
