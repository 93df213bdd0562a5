package hybris

// AndroidStubs binds every known libandroid symbol that t lacks to a
// no-op that logs the call.
func AndroidStubs(t *HookTable) int {
	var n int
	for _, name := range androidSymbols {
		if t.AddFunc(name, Stub("android", name, "Android stub called")) {
			n++
		}
	}
	return n
}

var androidSymbols = []string{
	"AAssetDir_close", "AAssetDir_getNextFileName", "AAssetDir_rewind",
	"AAssetManager_fromJava", "AAssetManager_open", "AAssetManager_openDir",
	"AAsset_close", "AAsset_getBuffer", "AAsset_getLength", "AAsset_getLength64",
	"AAsset_getRemainingLength", "AAsset_getRemainingLength64", "AAsset_isAllocated",
	"AAsset_openFileDescriptor", "AAsset_openFileDescriptor64", "AAsset_read",
	"AAsset_seek", "AAsset_seek64",
	"AConfiguration_copy", "AConfiguration_delete", "AConfiguration_fromAssetManager",
	"AConfiguration_getCountry", "AConfiguration_getDensity", "AConfiguration_getKeyboard",
	"AConfiguration_getKeysHidden", "AConfiguration_getLanguage", "AConfiguration_getMcc",
	"AConfiguration_getMnc", "AConfiguration_getNavHidden", "AConfiguration_getNavigation",
	"AConfiguration_getOrientation", "AConfiguration_getScreenHeightDp",
	"AConfiguration_getScreenLong", "AConfiguration_getScreenSize",
	"AConfiguration_getScreenWidthDp", "AConfiguration_getSdkVersion",
	"AConfiguration_getSmallestScreenWidthDp", "AConfiguration_getTouchscreen",
	"AConfiguration_getUiModeNight", "AConfiguration_getUiModeType", "AConfiguration_new",
	"AInputEvent_getDeviceId", "AInputEvent_getSource", "AInputEvent_getType",
	"AInputQueue_attachLooper", "AInputQueue_detachLooper", "AInputQueue_finishEvent",
	"AInputQueue_getEvent", "AInputQueue_hasEvents", "AInputQueue_preDispatchEvent",
	"AKeyEvent_getAction", "AKeyEvent_getDownTime", "AKeyEvent_getEventTime",
	"AKeyEvent_getFlags", "AKeyEvent_getKeyCode", "AKeyEvent_getMetaState",
	"AKeyEvent_getRepeatCount", "AKeyEvent_getScanCode",
	"ALooper_acquire", "ALooper_addFd", "ALooper_forThread", "ALooper_pollAll",
	"ALooper_pollOnce", "ALooper_prepare", "ALooper_release", "ALooper_removeFd",
	"ALooper_wake",
	"AMotionEvent_getAction", "AMotionEvent_getAxisValue", "AMotionEvent_getButtonState",
	"AMotionEvent_getDownTime", "AMotionEvent_getEdgeFlags", "AMotionEvent_getEventTime",
	"AMotionEvent_getFlags", "AMotionEvent_getHistorySize", "AMotionEvent_getMetaState",
	"AMotionEvent_getPointerCount", "AMotionEvent_getPointerId", "AMotionEvent_getPressure",
	"AMotionEvent_getRawX", "AMotionEvent_getRawY", "AMotionEvent_getSize",
	"AMotionEvent_getToolType", "AMotionEvent_getX", "AMotionEvent_getXOffset",
	"AMotionEvent_getXPrecision", "AMotionEvent_getY", "AMotionEvent_getYOffset",
	"AMotionEvent_getYPrecision",
	"ANativeActivity_finish", "ANativeActivity_hideSoftInput", "ANativeActivity_setWindowFlags",
	"ANativeActivity_setWindowFormat", "ANativeActivity_showSoftInput",
	"ANativeWindow_acquire", "ANativeWindow_fromSurface", "ANativeWindow_getFormat",
	"ANativeWindow_getHeight", "ANativeWindow_getWidth", "ANativeWindow_lock",
	"ANativeWindow_release", "ANativeWindow_setBuffersGeometry", "ANativeWindow_unlockAndPost",
	"ASensorEventQueue_disableSensor", "ASensorEventQueue_enableSensor",
	"ASensorEventQueue_getEvents", "ASensorEventQueue_hasEvents", "ASensorEventQueue_setEventRate",
	"ASensorManager_createEventQueue", "ASensorManager_destroyEventQueue",
	"ASensorManager_getDefaultSensor", "ASensorManager_getInstance",
	"ASensorManager_getInstanceForPackage", "ASensorManager_getSensorList",
	"ASensor_getMinDelay", "ASensor_getName", "ASensor_getResolution", "ASensor_getType",
	"ASensor_getVendor",
	"AStorageManager_delete", "AStorageManager_getMountedObbPath",
	"AStorageManager_isObbMounted", "AStorageManager_mountObb", "AStorageManager_new",
	"AStorageManager_unmountObb",
}
