// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

// targetDescription is the register file gdb is told about: the ARM
// m-profile base set plus the banked stack pointers, the special mask
// registers and the single precision FP bank.
const targetDescription = `<?xml version="1.0"?>` +
	`<!DOCTYPE target SYSTEM "gdb-target.dtd">` +
	`<target version="1.0">` +
	`   <architecture>arm</architecture>` +
	`   <feature name="org.gnu.gdb.arm.m-profile">` +
	`       <reg name="r0" bitsize="32"/>` +
	`       <reg name="r1" bitsize="32"/>` +
	`       <reg name="r2" bitsize="32"/>` +
	`       <reg name="r3" bitsize="32"/>` +
	`       <reg name="r4" bitsize="32"/>` +
	`       <reg name="r5" bitsize="32"/>` +
	`       <reg name="r6" bitsize="32"/>` +
	`       <reg name="r7" bitsize="32"/>` +
	`       <reg name="r8" bitsize="32"/>` +
	`       <reg name="r9" bitsize="32"/>` +
	`       <reg name="r10" bitsize="32"/>` +
	`       <reg name="r11" bitsize="32"/>` +
	`       <reg name="r12" bitsize="32"/>` +
	`       <reg name="sp" bitsize="32" type="data_ptr"/>` +
	`       <reg name="lr" bitsize="32"/>` +
	`       <reg name="pc" bitsize="32" type="code_ptr"/>` +
	`       <reg name="xpsr" bitsize="32" regnum="25"/>` +
	`       <reg name="msp" bitsize="32" regnum="26" type="data_ptr" group="general" />` +
	`       <reg name="psp" bitsize="32" regnum="27" type="data_ptr" group="general" />` +
	`       <reg name="control" bitsize="8" regnum="28" type="int" group="general" />` +
	`       <reg name="faultmask" bitsize="8" regnum="29" type="int" group="general" />` +
	`       <reg name="basepri" bitsize="8" regnum="30" type="int" group="general" />` +
	`       <reg name="primask" bitsize="8" regnum="31" type="int" group="general" />` +
	`       <reg name="s0" bitsize="32" regnum="32" type="float" group="float" />` +
	`       <reg name="s1" bitsize="32" type="float" group="float" />` +
	`       <reg name="s2" bitsize="32" type="float" group="float" />` +
	`       <reg name="s3" bitsize="32" type="float" group="float" />` +
	`       <reg name="s4" bitsize="32" type="float" group="float" />` +
	`       <reg name="s5" bitsize="32" type="float" group="float" />` +
	`       <reg name="s6" bitsize="32" type="float" group="float" />` +
	`       <reg name="s7" bitsize="32" type="float" group="float" />` +
	`       <reg name="s8" bitsize="32" type="float" group="float" />` +
	`       <reg name="s9" bitsize="32" type="float" group="float" />` +
	`       <reg name="s10" bitsize="32" type="float" group="float" />` +
	`       <reg name="s11" bitsize="32" type="float" group="float" />` +
	`       <reg name="s12" bitsize="32" type="float" group="float" />` +
	`       <reg name="s13" bitsize="32" type="float" group="float" />` +
	`       <reg name="s14" bitsize="32" type="float" group="float" />` +
	`       <reg name="s15" bitsize="32" type="float" group="float" />` +
	`       <reg name="s16" bitsize="32" type="float" group="float" />` +
	`       <reg name="s17" bitsize="32" type="float" group="float" />` +
	`       <reg name="s18" bitsize="32" type="float" group="float" />` +
	`       <reg name="s19" bitsize="32" type="float" group="float" />` +
	`       <reg name="s20" bitsize="32" type="float" group="float" />` +
	`       <reg name="s21" bitsize="32" type="float" group="float" />` +
	`       <reg name="s22" bitsize="32" type="float" group="float" />` +
	`       <reg name="s23" bitsize="32" type="float" group="float" />` +
	`       <reg name="s24" bitsize="32" type="float" group="float" />` +
	`       <reg name="s25" bitsize="32" type="float" group="float" />` +
	`       <reg name="s26" bitsize="32" type="float" group="float" />` +
	`       <reg name="s27" bitsize="32" type="float" group="float" />` +
	`       <reg name="s28" bitsize="32" type="float" group="float" />` +
	`       <reg name="s29" bitsize="32" type="float" group="float" />` +
	`       <reg name="s30" bitsize="32" type="float" group="float" />` +
	`       <reg name="s31" bitsize="32" type="float" group="float" />` +
	`       <reg name="fpscr" bitsize="32" type="int" group="float" />` +
	`   </feature>` +
	`</target>`
