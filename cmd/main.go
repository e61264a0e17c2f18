/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package main

import (
	"flag"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "path of the yaml config file")
	klog.InitFlags(nil)
	flag.Parse()

	s, err := server.NewServer(*configPath)
	if err != nil {
		fmt.Println("failed to new server, err: ", err.Error())
		return
	}
	s.Start()
}
